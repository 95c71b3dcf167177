package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garimpeirogeek/dealgate/internal/models"
)

// OfferRequest is one offer submitted for admission.
type OfferRequest struct {
	Title         string          `json:"title"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	URL           string          `json:"url"`
	Store         string          `json:"store"`
	MerchantID    string          `json:"merchant_id"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand"`
	Model         string          `json:"model"`
}

// BatchRequest is a batch of offers from one source.
type BatchRequest struct {
	Source string         `json:"source"`
	Offers []OfferRequest `json:"offers"`
}

func (req *OfferRequest) toOffer() (models.Offer, error) {
	offer, err := models.NewOffer(req.Title, req.Price, req.URL, req.Store)
	if err != nil {
		return models.Offer{}, err
	}
	offer.OriginalPrice = req.OriginalPrice
	offer.MerchantID = req.MerchantID
	offer.Category = req.Category
	offer.Brand = req.Brand
	offer.Model = req.Model
	return offer, nil
}

// health returns component statuses
// GET /health
func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	components := r.pipeline.HealthCheck(ctx)

	status := healthStatusHealthy
	code := http.StatusOK
	for _, component := range components {
		if !component.Healthy {
			status = healthStatusDegraded
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
	})
}

// processOffer admits a single offer
// POST /api/v1/offers?source=scraper
func (r *Router) processOffer(c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}

	offer, err := req.toOffer()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	source := c.DefaultQuery("source", "api")
	result := r.pipeline.Process(c.Request.Context(), offer, source)
	writeProcessingResult(c, result)
}

// processBatch admits a batch of offers
// POST /api/v1/offers/batch
func (r *Router) processBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request payload",
			"details": err.Error(),
		})
		return
	}
	if len(req.Offers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Batch must contain at least one offer",
		})
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	offers := make([]models.Offer, 0, len(req.Offers))
	for i := range req.Offers {
		offer, err := req.Offers[i].toOffer()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
				"index": i,
			})
			return
		}
		offers = append(offers, offer)
	}

	batch := r.pipeline.ProcessBatch(c.Request.Context(), offers, req.Source)
	c.JSON(http.StatusOK, batch)
}

// stats returns pipeline counters and component snapshots
// GET /api/v1/stats
func (r *Router) stats(c *gin.Context) {
	c.JSON(http.StatusOK, r.pipeline.GetStats())
}

// rateLimitStatus reports one resource's window without consuming quota
// GET /api/v1/ratelimit/:resource
func (r *Router) rateLimitStatus(c *gin.Context) {
	resource := c.Param("resource")
	c.JSON(http.StatusOK, r.limiter.ResourceStatus(resource))
}

// clearDedup drops the duplicate index
// DELETE /api/v1/admin/dedup
func (r *Router) clearDedup(c *gin.Context) {
	r.pipeline.ClearDedup()
	c.JSON(http.StatusOK, gin.H{
		"status": "cleared",
	})
}

// writeProcessingResult maps a terminal result onto an HTTP status.
func writeProcessingResult(c *gin.Context, result models.ProcessingResult) {
	switch result.Result {
	case models.ResultSuccess:
		c.JSON(http.StatusOK, result)
	case models.ResultDuplicate:
		c.JSON(http.StatusConflict, result)
	case models.ResultRateLimited:
		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
		}
		c.JSON(http.StatusTooManyRequests, result)
	case models.ResultValidationFailed:
		c.JSON(http.StatusUnprocessableEntity, result)
	default:
		c.JSON(http.StatusInternalServerError, result)
	}
}
