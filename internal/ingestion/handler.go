package ingestion

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	httperr "github.com/tideline-analytics/tideline/internal/core/errors"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgEmptyBatch     = "Batch must contain at least one event"
	msgEnqueueFailed  = "Failed to enqueue batch"
)

// batchRequest is the request body for both the sync and async endpoints.
type batchRequest struct {
	Events []v1.EventCandidate `json:"events"`
}

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// CreateEventsHandler handles POST /v1/events: the synchronous batch write.
// Fully accepted batches return 201, partial acceptance 207 with per-index
// errors, and a fully rejected batch 400.
func (s *Service) CreateEventsHandler(c *gin.Context) {
	batch, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	result := s.pipeline.ProcessBatch(c.Request.Context(), batch.Events)

	slog.Info("Processed inline batch",
		"submitted", len(batch.Events),
		"accepted", result.Accepted,
		"errors", len(result.Errors))

	switch {
	case result.Accepted == 0 && len(result.Errors) > 0:
		c.JSON(http.StatusBadRequest, gin.H{
			"error_type": httperr.HttpValidationError,
			"message":    "Validation failed",
			"errors":     result.Errors,
		})
	case len(result.Errors) > 0:
		c.JSON(http.StatusMultiStatus, gin.H{
			"accepted": result.Accepted,
			"errors":   result.Errors,
		})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"accepted": result.Accepted,
		})
	}
}

// EnqueueEventsHandler handles POST /v1/events/async: validates the batch
// envelope and queues it for the ingestion workers. Responds 202 with the
// job identifier; per-index write outcomes surface in worker logs, not in
// this response.
func (s *Service) EnqueueEventsHandler(c *gin.Context) {
	batch, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	// Jobs carry only syntactically valid candidates, so workers never
	// reprocess garbage on redelivery.
	var indexErrors []v1.IndexedError
	for i := range batch.Events {
		if vErr := batch.Events[i].Validate(); vErr != nil {
			indexErrors = append(indexErrors, v1.IndexedError{Index: i, Message: vErr.Error()})
		}
	}
	if len(indexErrors) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error_type": httperr.HttpValidationError,
			"message":    "Validation failed",
			"errors":     indexErrors,
		})
		return
	}

	jobID, enqueueErr := s.enqueuer.Enqueue(c.Request.Context(), batch.Events)
	if enqueueErr != nil {
		slog.Error("Failed to enqueue batch", "batch_size", len(batch.Events), "error", enqueueErr)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpEnqueueError,
			message:    msgEnqueueFailed,
		})
		return
	}

	slog.Info("Enqueued batch", "job_id", jobID, "batch_size", len(batch.Events))

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"queued": len(batch.Events),
	})
}

// parseBatch reads the size-capped request body and binds it into a batchRequest.
func (s *Service) parseBatch(c *gin.Context) (*batchRequest, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var batch batchRequest
	if err := c.ShouldBindJSON(&batch); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if len(batch.Events) == 0 {
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    msgEmptyBatch,
		}
	}

	if len(batch.Events) > s.maxBatchSize {
		slog.Warn("Batch exceeds maximum size", "size", len(batch.Events), "max", s.maxBatchSize)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpValidationError,
			message:    "Batch exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_batch_size": s.maxBatchSize,
			},
		}
	}

	return &batch, nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
