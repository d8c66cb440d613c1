package handlers

import (
	"github.com/quiethall/doorman/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespScanLogs wraps a list of scan log items in the standard envelope.
type RespScanLogs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []ScanLogItem            `json:"data"`
}
