package app

import (
	"time"

	"github.com/quiethall/doorman/internal/app/api/server"
	"github.com/quiethall/doorman/internal/app/bot"
	"github.com/quiethall/doorman/internal/app/service/directory"
	"github.com/quiethall/doorman/internal/app/service/linkstart"
	"github.com/quiethall/doorman/internal/app/service/membership"
	"github.com/quiethall/doorman/internal/app/service/record"
	"github.com/quiethall/doorman/internal/app/service/scan"
	"github.com/quiethall/doorman/internal/platform/db"
	"github.com/quiethall/doorman/internal/platform/discord"
	"github.com/quiethall/doorman/pkg/config"
	"github.com/quiethall/doorman/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 15 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	discord.Module,
	record.Module,
	directory.Module,
	membership.Module,
	linkstart.Module,
	scan.Module,
	server.Module,
	bot.Module,
)
