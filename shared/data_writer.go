package shared

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

var jsonAPI = sonic.Config{
	UseNumber:            true,
	EscapeHTML:           false,
	SortMapKeys:          false,
	CompactMarshaler:     true,
	NoQuoteTextMarshaler: true,
	NoNullSliceOrMap:     true,
}.Froze()

var (
	successResponse       = mustMarshal(Response{Code: 200, Message: "Success"})
	notFoundResponse      = mustMarshal(Response{Code: 404, Message: "Not Found"})
	unauthorizedResponse  = mustMarshal(Response{Code: 401, Message: "Unauthorized"})
	badRequestResponse    = mustMarshal(Response{Code: 400, Message: "Bad Request"})
	internalErrorResponse = mustMarshal(Response{Code: 500, Message: "Internal Server Error"})
)

func mustMarshal(v interface{}) []byte {
	b, _ := jsonAPI.Marshal(v)
	return b
}

func ResponseJSON(c *fiber.Ctx, httpCode int, message string, data interface{}) error {
	if data == nil {
		switch httpCode {
		case http.StatusOK:
			if message == "Success" {
				return sendPrebuilt(c, httpCode, successResponse)
			}
		case http.StatusBadRequest:
			if message == "Bad Request" {
				return sendPrebuilt(c, httpCode, badRequestResponse)
			}
		case http.StatusNotFound:
			if message == "Not Found" {
				return sendPrebuilt(c, httpCode, notFoundResponse)
			}
		case http.StatusUnauthorized:
			if message == "Unauthorized" {
				return sendPrebuilt(c, httpCode, unauthorizedResponse)
			}
		case http.StatusInternalServerError:
			if message == "Internal Server Error" {
				return sendPrebuilt(c, httpCode, internalErrorResponse)
			}
		}
	}

	body, err := jsonAPI.Marshal(Response{
		Code:    httpCode,
		Message: message,
		Data:    data,
	})
	if err != nil {
		return sendPrebuilt(c, http.StatusInternalServerError, internalErrorResponse)
	}

	return sendPrebuilt(c, httpCode, body)
}

func sendPrebuilt(c *fiber.Ctx, httpCode int, body []byte) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	return c.Status(httpCode).Send(body)
}

func ResponseInternalError(c *fiber.Ctx, err error) error {
	return ResponseJSON(c, http.StatusInternalServerError, "Internal Server Error", err.Error())
}
