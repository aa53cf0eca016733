package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"decisionsupport/internal/domain"
	"decisionsupport/internal/engine"
)

type recordOutput struct {
	Body RecordResponse `json:"body"`
}

type payloadOutput struct {
	Body json.RawMessage `json:"body"`
}

var contentErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerDecisionSupport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decision-support",
		Method:      http.MethodGet,
		Path:        "/support/list",
		Summary:     "List decision support records",
		Tags:        []string{"decision support"},
		Errors:      contentErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DecisionSupportSummary `json:"body"`
	}, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		list, err := e.ListDecisionSupport(ctx)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &struct {
			Body []domain.DecisionSupportSummary `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision-support",
		Method:      http.MethodGet,
		Path:        "/support/get/{decisionSupportId}",
		Summary:     "Get the payload of a decision support record",
		Tags:        []string{"decision support"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"decisionSupportId"`
	}) (*payloadOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		payload, err := e.GetDecisionSupport(ctx, input.ID)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &payloadOutput{Body: rawPayload(payload)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-decision-support",
		Method:        http.MethodPost,
		Path:          "/support/create",
		Summary:       "Create a decision support record from a process",
		Tags:          []string{"decision support"},
		DefaultStatus: http.StatusCreated,
		Errors:        contentErrors,
	}, func(ctx context.Context, input *struct {
		Body json.RawMessage `json:"body"`
	}) (*recordOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		data, err := decodeObject(input.Body)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		ds, err := e.CreateDecisionSupport(ctx, data)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &recordOutput{Body: recordResponse(ds)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-decision-support",
		Method:      http.MethodPatch,
		Path:        "/support/update/{decisionSupportId}",
		Summary:     "Replace the payload of a decision support record",
		Tags:        []string{"decision support"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"decisionSupportId"`
		Body json.RawMessage `json:"body"`
	}) (*recordOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		data, err := decodeObject(input.Body)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		ds, err := e.UpdateDecisionSupport(ctx, input.ID, data)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &recordOutput{Body: recordResponse(ds)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "archive-decision-support",
		Method:        http.MethodDelete,
		Path:          "/support/archive/{decisionSupportId}",
		Summary:       "Archive (delete) a decision support record",
		Tags:          []string{"decision support"},
		DefaultStatus: http.StatusNoContent,
		Errors:        contentErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"decisionSupportId"`
	}) (*struct{}, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		if err := e.ArchiveDecisionSupport(ctx, input.ID); err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &struct{}{}, nil
	})
}

func registerDecisionSupportFile(api huma.API, e engine.Engine) {
	type fileOutput struct {
		Body domain.DecisionSupportFile `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "export-decision-support-file",
		Method:      http.MethodPost,
		Path:        "/support/file/export/{decisionSupportId}",
		Summary:     "Export a decision support payload to file storage",
		Tags:        []string{"decision support file"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"decisionSupportId"`
	}) (*fileOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		file, err := e.ExportDecisionSupportFile(ctx, input.ID)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &fileOutput{Body: file}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision-support-file",
		Method:      http.MethodGet,
		Path:        "/support/file/get/{decisionSupportId}",
		Summary:     "Get an exported decision support file",
		Tags:        []string{"decision support file"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"decisionSupportId"`
	}) (*fileOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		file, err := e.GetDecisionSupportFile(ctx, input.ID)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &fileOutput{Body: file}, nil
	})
}

func registerInvestigations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-investigation",
		Method:      http.MethodPatch,
		Path:        "/investigation/update/{investigationId}",
		Summary:     "Replace the payload of an investigation",
		Tags:        []string{"investigation"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"investigationId"`
		Body json.RawMessage `json:"body"`
	}) (*recordOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		data, err := decodeObject(input.Body)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		inv, err := e.UpdateInvestigation(ctx, input.ID, data)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &recordOutput{Body: recordResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-investigation",
		Method:        http.MethodPost,
		Path:          "/investigation/create",
		Summary:       "Create an investigation",
		Tags:          []string{"investigation"},
		DefaultStatus: http.StatusCreated,
		Errors:        contentErrors,
	}, func(ctx context.Context, input *struct {
		Body json.RawMessage `json:"body"`
	}) (*recordOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		data, err := decodeObject(input.Body)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		inv, err := e.CreateInvestigation(ctx, data)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &recordOutput{Body: recordResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-investigation",
		Method:      http.MethodGet,
		Path:        "/investigation/get/{investigationId}",
		Summary:     "Get the payload of an investigation",
		Tags:        []string{"investigation"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"investigationId"`
	}) (*payloadOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		payload, err := e.GetInvestigation(ctx, input.ID)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &payloadOutput{Body: rawPayload(payload)}, nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/process/create",
		Summary:       "Create a process",
		Tags:          []string{"process"},
		DefaultStatus: http.StatusCreated,
		Errors:        contentErrors,
	}, func(ctx context.Context, input *struct {
		Body json.RawMessage `json:"body"`
	}) (*recordOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		data, err := decodeObject(input.Body)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		p, err := e.CreateProcess(ctx, data)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &recordOutput{Body: recordResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/process/get/{processId}",
		Summary:     "Get a process",
		Tags:        []string{"process"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"processId"`
	}) (*recordOutput, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		p, err := e.GetProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		return &recordOutput{Body: recordResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/process/list",
		Summary:     "List processes",
		Tags:        []string{"process"},
		Errors:      contentErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RecordResponse `json:"body"`
	}, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(e.Logger, err)
		}
		list, err := e.ListProcesses(ctx)
		if err != nil {
			return nil, handleError(e.Logger, err)
		}
		out := make([]RecordResponse, 0, len(list))
		for _, p := range list {
			out = append(out, recordResponse(p))
		}
		return &struct {
			Body []RecordResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, events EventLister, logger *slog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Tags:        []string{"events"},
		Errors:      contentErrors,
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if err := requireAccess(ctx); err != nil {
			return nil, handleError(logger, err)
		}
		items, err := events.LatestEvents(ctx, input.Limit, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(logger, err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(logger, ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
