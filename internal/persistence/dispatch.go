package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// Operation names for Dispatch, mirroring the teacher's RPC protocol's
// string-keyed operation constants (internal/rpc/protocol.go).
const (
	OpGetDocument            = "get_document"
	OpGetDocumentWithContent = "get_document_with_content"
	OpUpdateProgress         = "update_progress"
	OpRecordFailure          = "record_failure"
	OpSaveOCRData            = "save_ocr_data"
	OpGetOCRData             = "get_ocr_data"
	OpMergeLanguageSlice     = "merge_language_slice"
	OpSaveMissingInfo        = "save_missing_info"
	OpCreateRecord           = "create_record"
	OpSetDocumentURL         = "set_document_url"
	OpGetUserPrefs           = "get_user_prefs"
)

// Request is one Dispatch call, args-typed per Operation. Kept for
// parity with the teacher's daemon RPC envelope
// (internal/rpc/protocol.go's Request{Operation, Args}) even though
// this Service has no network boundary of its own: the worker and
// ingress processes call it in-process.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
}

// Response mirrors the teacher's Response{Success, Data, Error}.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func errResponse(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

func dataResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse(fmt.Errorf("marshal response data: %w", err))
	}
	return Response{Success: true, Data: data}
}

// Dispatch routes req to the corresponding typed Service method. It
// exists so this Service's operations can be driven by the same
// request/response envelope shape as the teacher's RPC daemon, should
// a future network boundary need one; in-process callers should prefer
// the typed methods directly.
func (s *Service) Dispatch(ctx context.Context, req Request) Response {
	switch req.Operation {
	case OpGetDocument:
		var args RecordKey
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		rec, err := s.GetDocument(ctx, args)
		if err != nil {
			return errResponse(err)
		}
		return dataResponse(rec)

	case OpGetDocumentWithContent:
		var args RecordKey
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		rec, blob, err := s.GetDocumentWithContent(ctx, args)
		if err != nil {
			return errResponse(err)
		}
		return dataResponse(struct {
			Record *types.Record      `json:"record"`
			Blob   *types.ContentBlob `json:"blob"`
		}{rec, blob})

	case OpUpdateProgress:
		var args struct {
			Key    RecordKey      `json:"key"`
			Update ProgressUpdate `json:"update"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.UpdateProgress(ctx, args.Key, args.Update); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpRecordFailure:
		var args struct {
			Key          RecordKey `json:"key"`
			ErrorMessage string    `json:"error_message"`
			FailedStep   string    `json:"failed_step"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.RecordFailure(ctx, args.Key, args.ErrorMessage, args.FailedStep); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpSaveOCRData:
		var args struct {
			Key      RecordKey       `json:"key"`
			DataType string          `json:"data_type"`
			Data     *types.OCRResult `json:"data"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.SaveOCRData(ctx, args.Key, args.DataType, args.Data); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpGetOCRData:
		var args struct {
			Key      RecordKey `json:"key"`
			DataType string    `json:"data_type"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		data, err := s.GetOCRData(ctx, args.Key, args.DataType)
		if err != nil {
			return errResponse(err)
		}
		return dataResponse(data)

	case OpMergeLanguageSlice:
		var args struct {
			Key   RecordKey     `json:"key"`
			Lang  string        `json:"lang"`
			Slice LanguageSlice `json:"slice"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.MergeLanguageSlice(ctx, args.Key, args.Lang, args.Slice); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpSaveMissingInfo:
		var args struct {
			Key   RecordKey                `json:"key"`
			Lang  string                   `json:"lang"`
			Items []types.MissingInfoItem `json:"items"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.SaveMissingInfo(ctx, args.Key, args.Lang, args.Items); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpCreateRecord:
		var args struct {
			Key         RecordKey `json:"key"`
			UserID      string    `json:"user_id"`
			DocumentURL string    `json:"document_url"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.CreateRecord(ctx, args.Key, args.UserID, args.DocumentURL); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpSetDocumentURL:
		var args struct {
			Key RecordKey `json:"key"`
			URL string    `json:"url"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		if err := s.SetDocumentURL(ctx, args.Key, args.URL); err != nil {
			return errResponse(err)
		}
		return Response{Success: true}

	case OpGetUserPrefs:
		var args struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResponse(fmt.Errorf("%s: %w", req.Operation, err))
		}
		prefs, err := s.GetUserPrefs(ctx, args.UserID)
		if err != nil {
			return errResponse(err)
		}
		return dataResponse(prefs)

	default:
		return errResponse(fmt.Errorf("unknown operation %q", req.Operation))
	}
}
