package export

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Attachment renders into memory and then sends the result as a download, so
// a failed render still produces a proper error response.
func Attachment(c echo.Context, format Format, base string, now time.Time, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", format.Filename(base, now)))
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}
