package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const panicStackSize = 8 << 10

// Recovery turns a handler panic into a JSON 500 and logs it with the
// request, tenant and patient it happened on.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := make([]byte, panicStackSize)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				tenant, _ := c.Get("tenant_id").(string)
				evt := logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("tenant_id", tenant).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack)
				if pid := c.Param("patient_id"); pid != "" {
					evt = evt.Str("patient_id", pid)
				}
				evt.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{
					Code:    "internal_error",
					Message: "internal server error",
				})
			}()
			return next(c)
		}
	}
}
