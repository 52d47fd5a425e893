package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/models"
	"github.com/mkulina/housing-pricing/services"
	"github.com/mkulina/housing-pricing/store"
)

const (
	predictRequestKey = "predict_request"

	// MaxPredictBodyBytes bounds the POST /predict body.
	MaxPredictBodyBytes = 4 << 10

	MessagePredictionFailed   = "Prediction failed. Please try again."
	MessagePredictionNotFound = "Prediction not found."
	MessagePredictionDeleted  = "Prediction deleted."
	MessageHistoryFailed      = "Could not load prediction history."
	MessageDeleteFailed       = "Could not delete prediction. Please try again."
	MessageBodyTooLarge       = "Request body too large."
)

type PredictionHandler struct {
	service *services.PredictionService
	logger  *zap.Logger
}

func NewPredictionHandler(service *services.PredictionService, logger *zap.Logger) *PredictionHandler {
	return &PredictionHandler{service: service, logger: logger}
}

// BindPredict validates the request body and stores it for Predict. It runs
// ahead of the rate limiter so rejected input never consumes quota.
func (h *PredictionHandler) BindPredict(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxPredictBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"success": false,
			"message": MessageBodyTooLarge,
		})
		return
	}

	req, errs := ParsePredictRequest(bytes.NewReader(body))
	if errs != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, validationResponse(errs))
		return
	}
	c.Set(predictRequestKey, req)
	c.Next()
}

func (h *PredictionHandler) Predict(c *gin.Context) {
	req, ok := c.MustGet(predictRequestKey).(*PredictRequest)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": MessagePredictionFailed})
		return
	}

	result, err := h.service.Predict(c.Request.Context(), *req.SquareFootage, *req.Bedrooms)
	if err != nil {
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusUnprocessableEntity, validationResponse(verrs))
			return
		}
		if !errors.Is(err, services.ErrPredictionFailed) {
			h.logger.Error("unexpected prediction error", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": MessagePredictionFailed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"predicted_price": result.FormattedPrice,
		"prediction_id":   result.PredictionID,
	})
}

func (h *PredictionHandler) History(c *gin.Context) {
	limit := ParseHistoryLimit(c, h.service.HistoryLimit())

	entries, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": MessageHistoryFailed})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"predictions": entries,
	})
}

func (h *PredictionHandler) GetPrediction(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		notFound(c)
		return
	}

	entry, err := h.service.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		h.logger.Error("prediction lookup failed", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": MessageHistoryFailed})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"prediction": entry,
	})
}

func (h *PredictionHandler) DeletePrediction(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		notFound(c)
		return
	}

	deleted, err := h.service.Delete(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("prediction delete failed", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": MessageDeleteFailed})
		return
	}
	if !deleted {
		notFound(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": MessagePredictionDeleted,
	})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"message": MessagePredictionNotFound,
	})
}

func validationResponse(errs models.ValidationErrors) gin.H {
	return gin.H{
		"success": false,
		"message": errs.Error(),
		"errors":  errs.ByField(),
	}
}
