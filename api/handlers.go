package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-client/domain"
	"prism-client/mutation"
	"prism-client/store"
)

type listResponse struct {
	Items []domain.Resource `json:"items"`
}

// mutationResponse carries the settled outcome and the resource as the store
// now holds it.
type mutationResponse struct {
	Status   mutation.Status `json:"status"`
	Seq      uint64          `json:"seq"`
	Resource domain.Resource `json:"resource,omitempty"`
}

type itemResult struct {
	ID       string          `json:"id"`
	Status   mutation.Status `json:"status"`
	Error    string          `json:"error,omitempty"`
	Resource domain.Resource `json:"resource,omitempty"`
}

type bulkResponse struct {
	Results []itemResult `json:"results"`
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func kindParam(c echo.Context) (domain.Kind, error) {
	return domain.ParseKind(c.Param("kind"))
}

func listResources(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind, err := kindParam(c)
		if err != nil {
			return writeError(c, err, nil, domain.Key{})
		}
		m := metricsFrom(c)
		m.SetResource(kind, "")
		items, err := ctrl.LoadAll(c.Request().Context(), kind)
		if err != nil {
			return writeError(c, err, nil, domain.Key{})
		}
		m.SetItemsReturned(len(items))
		return c.JSON(http.StatusOK, listResponse{Items: items})
	}
}

func getResource(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind, err := kindParam(c)
		if err != nil {
			return writeError(c, err, nil, domain.Key{})
		}
		id := c.Param("id")
		metricsFrom(c).SetResource(kind, id)
		r, err := ctrl.Load(c.Request().Context(), kind, id)
		if err != nil {
			return writeError(c, err, nil, domain.Key{})
		}
		return c.JSON(http.StatusOK, r)
	}
}

// applyIntent runs one mutation and writes its outcome. okStatus 204 sends
// no body.
func applyIntent(c echo.Context, ctrl Controller, reader store.Reader, in mutation.Intent, okStatus int) error {
	m := metricsFrom(c)
	m.SetResource(in.Kind, in.ID)
	m.SetMutationOp(in.Op)

	res, err := ctrl.Apply(c.Request().Context(), in)
	m.SetMutationStatus(res.Status)
	if err != nil {
		return writeError(c, err, reader, domain.Key{Kind: in.Kind, ID: in.ID})
	}
	if okStatus == http.StatusNoContent {
		return c.NoContent(okStatus)
	}

	body := mutationResponse{Status: res.Status, Seq: res.Seq}
	if res.Status == mutation.StatusCommitted && res.Resource != nil && !domain.IsTombstone(res.Resource) {
		body.Resource = res.Resource
	} else if r, ok := reader.Get(res.Key.Kind, res.Key.ID); ok {
		body.Resource = r
	}
	return c.JSON(okStatus, body)
}

func createTask(ctrl Controller, reader store.Reader, p mutation.Performer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var nt mutation.NewTask
		if err := decodeBody(c, &nt); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Code: codeInvalid})
		}
		return applyIntent(c, ctrl, reader, mutation.CreateTask(p, nt), http.StatusCreated)
	}
}

func updateTask(ctrl Controller, reader store.Reader, p mutation.Performer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var f mutation.TaskFields
		if err := decodeBody(c, &f); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Code: codeInvalid})
		}
		return applyIntent(c, ctrl, reader, mutation.UpdateTask(p, c.Param("id"), f), http.StatusOK)
	}
}

func deleteTask(ctrl Controller, reader store.Reader, p mutation.Performer) echo.HandlerFunc {
	return func(c echo.Context) error {
		return applyIntent(c, ctrl, reader, mutation.DeleteTask(p, c.Param("id")), http.StatusNoContent)
	}
}

func cycleTask(ctrl Controller, reader store.Reader, p mutation.Performer) echo.HandlerFunc {
	return func(c echo.Context) error {
		return applyIntent(c, ctrl, reader, mutation.CycleTask(p, c.Param("id")), http.StatusOK)
	}
}

func archiveProject(ctrl Controller, reader store.Reader, p mutation.Performer, archived bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		in := mutation.UnarchiveProject(p, c.Param("id"))
		if archived {
			in = mutation.ArchiveProject(p, c.Param("id"))
		}
		return applyIntent(c, ctrl, reader, in, http.StatusOK)
	}
}

func readNotification(ctrl Controller, reader store.Reader, p mutation.Performer) echo.HandlerFunc {
	return func(c echo.Context) error {
		return applyIntent(c, ctrl, reader, mutation.MarkNotificationRead(p, c.Param("id")), http.StatusOK)
	}
}

// readAllNotifications marks every unread notification read, one mutation
// each. A partial failure answers 207 with per-item outcomes; nothing is
// reported as read unless the server confirmed it.
func readAllNotifications(ctrl Controller, reader store.Reader, p mutation.Performer) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		m.SetResource(domain.KindNotification, "")
		intents := mutation.MarkAllNotificationsRead(p, reader)
		resp := bulkResponse{Results: make([]itemResult, 0, len(intents))}
		if len(intents) == 0 {
			return c.JSON(http.StatusOK, resp)
		}

		results, err := ctrl.ApplyAll(c.Request().Context(), intents)
		failures := failuresByID(err)
		for i, res := range results {
			item := itemResult{ID: intents[i].ID, Status: res.Status}
			if r, ok := reader.Get(domain.KindNotification, item.ID); ok {
				item.Resource = r
			}
			if ferr, ok := failures[item.ID]; ok {
				item.Error = ferr.Error()
			}
			resp.Results = append(resp.Results, item)
		}
		m.SetItemsReturned(len(resp.Results))
		if err != nil {
			m.SetErrorStage("bulk")
			if len(failures) == len(results) {
				status, _ := statusFor(err)
				return c.JSON(status, resp)
			}
			return c.JSON(http.StatusMultiStatus, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// failuresByID splits an ApplyAll error into per-resource failures.
func failuresByID(err error) map[string]error {
	out := make(map[string]error)
	if err == nil {
		return out
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		var me *mutation.Error
		if errors.As(e, &me) {
			out[me.Key.ID] = e
		}
	}
	return out
}
