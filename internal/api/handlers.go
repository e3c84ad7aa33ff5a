package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/polybot/yolo-service/internal/buildinfo"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/prediction"
)

func (s *Server) welcome(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Welcome!"})
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version(),
	})
}

// predict runs the pipeline for one image. Validation failures are answered
// with 400 before anything is fetched or stored.
func (s *Server) predict(c echo.Context) error {
	var req prediction.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest,
			NewErrorResponse(c, "bad_request", "request body must be a JSON object", http.StatusBadRequest))
	}

	ctx := logger.WithTraceID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
	result, err := s.processor.Process(ctx, req)
	if err != nil {
		return s.pipelineFailure(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) pipelineFailure(c echo.Context, err error) error {
	if prediction.IsValidation(err) {
		resp := NewErrorResponse(c, "bad_request", err.Error(), http.StatusBadRequest)
		var pe *prediction.PipelineError
		if errors.As(err, &pe) {
			resp.Message = pe.Err.Error()
			resp.Step = pe.Step
		}
		return c.JSON(http.StatusBadRequest, resp)
	}

	resp := NewErrorResponse(c, "prediction_failed", "prediction failed: "+err.Error(), http.StatusInternalServerError)
	var pe *prediction.PipelineError
	if errors.As(err, &pe) {
		resp.Step = pe.Step
	}
	s.log.Error("prediction request failed",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("step", resp.Step),
		logger.Error(err))
	return c.JSON(http.StatusInternalServerError, resp)
}

func (s *Server) getPrediction(c echo.Context) error {
	uid := c.Param("uid")
	view, err := s.dataStore.GetPrediction(c.Request().Context(), uid)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.JSON(http.StatusNotFound,
				NewErrorResponse(c, "not_found", "prediction not found", http.StatusNotFound))
		}
		s.log.Error("failed to load prediction", logger.String("uid", uid), logger.Error(err))
		return c.JSON(http.StatusInternalServerError,
			NewErrorResponse(c, "internal_error", "failed to load prediction", http.StatusInternalServerError))
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) getPredictionsByScore(c echo.Context) error {
	raw := c.Param("min_score")
	minScore, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(minScore) || minScore < 0 || minScore > 1 {
		return c.JSON(http.StatusBadRequest,
			NewErrorResponse(c, "bad_request", "min_score must be a number between 0 and 1", http.StatusBadRequest))
	}

	rows, err := s.dataStore.GetPredictionsByScore(c.Request().Context(), minScore)
	if err != nil {
		s.log.Error("failed to query predictions by score", logger.Float64("min_score", minScore), logger.Error(err))
		return c.JSON(http.StatusInternalServerError,
			NewErrorResponse(c, "internal_error", "failed to query predictions", http.StatusInternalServerError))
	}
	return c.JSON(http.StatusOK, rows)
}
