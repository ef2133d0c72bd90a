package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zepph7/christmas-surprise/pkg/validation"
)

// Error is the JSON body of every non-2xx API answer.
type Error struct {
	Message string             `json:"message"`
	Fields  *map[string]string `json:"fields,omitempty"`
}

func badRequest(message string) error {
	return echo.NewHTTPError(http.StatusBadRequest, Error{Message: message})
}

func validationError(err error) error {
	fields := validation.FieldErrors(err)
	return echo.NewHTTPError(http.StatusBadRequest, Error{Message: "validation error", Fields: &fields})
}

// errorHandler renders echo errors with the Error body; plain string messages are wrapped.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := Error{Message: http.StatusText(code)}

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		switch msg := he.Message.(type) {
		case Error:
			body = msg
		case string:
			body = Error{Message: msg}
		default:
			body = Error{Message: http.StatusText(code)}
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		c.Logger().Error(err)
	}
}
