package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	feed "github.com/planetarium/ncfeed/pkg"
)

var httpCodeForError = map[string]int{
	string(feed.BadRequest):   400,
	string(feed.NotAvailable): 503,
	string(feed.NotFound):     404,
	string(feed.Malformed):    400,
	string(feed.Closed):       410,
	string(feed.UnknownError): 500,
}

func HttpStatusForError(code feed.ErrorCode) int {
	status, found := httpCodeForError[string(code)]
	if !found {
		status = http.StatusInternalServerError
	}
	return status
}

func sendResponse(w http.ResponseWriter, payload any) {
	// note: w.Header after this, so we can call sendError
	b, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "marshal", fmt.Sprintf("in json.Marshal: %s", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.Write(b)
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendErrorResponse(w, http.StatusBadRequest, feed.BadRequest, message)
}

func sendError(w http.ResponseWriter, where string, err error) {
	var info *feed.ErrorInfo
	if errors.As(err, &info) {
		status := HttpStatusForError(info.Code)
		message := fmt.Sprintf("%s: %s", where, info.Message)
		sendErrorResponse(w, status, info.Code, message)
	} else {
		message := fmt.Sprintf("%s: %s", where, err.Error())
		sendErrorResponse(w, http.StatusInternalServerError, feed.UnknownError, message)
	}
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, code feed.ErrorCode, message string) {
	log.Printf("[!] %s: %s\n", code, message)
	// would prefer to use json.Marshal, but this avoids the need
	// to handle encoding errors arising from json.Marshal itself!
	payload := fmt.Sprintf("{\"error\":{\"code\":%q,\"message\":%q}}", code, message)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.WriteHeader(statusCode)
	w.Write([]byte(payload))
}

// errorPayload is the body of a websocket "error" message.
type errorPayload struct {
	Code    feed.ErrorCode `json:"code"`
	Message string         `json:"message"`
}

func toErrorPayload(err error) errorPayload {
	var info *feed.ErrorInfo
	if errors.As(err, &info) {
		return errorPayload{Code: info.Code, Message: info.Message}
	}
	return errorPayload{Code: feed.UnknownError, Message: err.Error()}
}
