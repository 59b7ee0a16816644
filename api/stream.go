package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-client/domain"
	"prism-client/store"
)

// streamResource pushes the current state of one key, then its state after
// every store change. Bursts of changes are coalesced; a slow reader always
// receives the latest state, never a stale one.
func streamResource(reader store.Reader, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind, err := kindParam(c)
		if err != nil {
			return writeError(c, err, nil, domain.Key{})
		}
		id := c.Param("id")
		metricsFrom(c).SetResource(kind, id)

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			metricsFrom(c).SetErrorStage("stream")
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "streaming unsupported", Code: codeInternal})
		}

		notify := make(chan struct{}, 1)
		unsubscribe := reader.Subscribe(kind, id, func(store.Change) {
			// runs under the controller lock; never block here
			select {
			case notify <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			if err := writeState(c.Response(), reader, kind, id); err != nil {
				return nil
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-notify:
					break wait
				case <-ticker.C:
					if _, err := io.WriteString(c.Response(), ":keepalive\n\n"); err != nil {
						return nil
					}
					flusher.Flush()
				}
			}
		}
	}
}

func writeState(w io.Writer, reader store.Reader, kind domain.Kind, id string) error {
	event := "state"
	var payload any
	if r, ok := reader.Get(kind, id); ok {
		payload = r
	} else {
		event = "deleted"
		payload = domain.Tombstone{ResourceKind: kind, ID: id}
	}
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "event: "+event+"\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n\n")
	return err
}
