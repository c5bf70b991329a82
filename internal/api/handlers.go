package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"formulaflow/internal/auth"
	"formulaflow/internal/store"
	"formulaflow/logger"
	"formulaflow/models"
	"formulaflow/processor"
)

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.WithComponent("api").WithError(err).WithFields(logger.Fields{"path": c.FullPath()}).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error", "message": err.Error()})
}

func (s *Server) issueToken(c *gin.Context) {
	tok, err := s.issuer.Issue(c.PostForm("grant_type"), c.PostForm("client_id"), c.PostForm("client_secret"))
	switch {
	case errors.Is(err, auth.ErrUnsupportedGrantType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
	case errors.Is(err, auth.ErrInvalidClient):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
	case err != nil:
		s.internalError(c, err)
	default:
		c.JSON(http.StatusOK, tok)
	}
}

func (s *Server) submitFormula(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Invalid JSON: " + err.Error()})
		return
	}

	resp, err := s.proc.Submit(c.Request.Context(), processor.HeadersFrom(c.Request.Header), body)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.Data(resp.StatusCode, "application/json", resp.Body)
}

func (s *Server) formulaMethodNotAllowed(c *gin.Context) {
	c.Header("Allow", http.MethodPost)
	c.JSON(http.StatusMethodNotAllowed, gin.H{
		"error":          "Method Not Allowed",
		"message":        "Only POST method is allowed for /formula/v0.0.1",
		"allowedMethods": []string{http.MethodPost},
	})
}

// submitFormulaLegacy accepts old clients that already send the transaction
// headers and points the rest at the current endpoint.
func (s *Server) submitFormulaLegacy(c *gin.Context) {
	if c.GetHeader("transactionId") != "" {
		s.submitFormula(c)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":         "Migration Required",
		"message":       "Please use POST /formula/v0.0.1 with required headers: transactionId, creationDateTime",
		"documentation": "See " + s.cfg.Service.Specification + " specification",
	})
}

func (s *Server) listFormulas(c *gin.Context) {
	stored, err := s.repo.ListFormulas(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	summaries := make([]models.FormulaSummary, 0, len(stored))
	for _, f := range stored {
		summaries = append(summaries, f.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"formulas": summaries, "totalCount": len(summaries)})
}

func (s *Server) getFormula(c *gin.Context) {
	f, err := s.repo.GetFormula(c.Request.Context(), c.Param("locationId"))
	if errors.Is(err, store.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"locationId":      f.LocationID,
		"formulaLocation": f.Raw,
		"transactionId":   f.TransactionID,
		"acceptedAt":      f.AcceptedAt,
	})
}

type timeSeriesSubmission struct {
	TimeSeries []models.TimeSeries `json:"timeSeries"`
}

func (s *Server) submitTimeSeries(c *gin.Context) {
	var req timeSeriesSubmission
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Invalid JSON: " + err.Error()})
		return
	}

	ids := make([]string, 0, len(req.TimeSeries))
	for _, ts := range req.TimeSeries {
		if ts.TimeSeriesID == "" {
			continue
		}
		if err := s.repo.PutSeries(c.Request.Context(), ts); err != nil {
			s.internalError(c, err)
			return
		}
		ids = append(ids, ts.TimeSeriesID)
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"accepted": len(ids), "submitted": len(req.TimeSeries)}).Info("time series accepted")
	c.JSON(http.StatusCreated, gin.H{
		"acceptanceTime": models.Timestamp(s.now()),
		"status":         "ACCEPTED",
		"timeSeriesIds":  ids,
	})
}

func (s *Server) queryTimeSeries(c *gin.Context) {
	series, err := s.repo.QuerySeries(c.Request.Context(), models.SeriesFilter{
		MarketLocationID: c.Query("marketLocationId"),
		MeterLocationID:  c.Query("meterLocationId"),
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	if series == nil {
		series = []models.TimeSeries{}
	}
	c.JSON(http.StatusOK, gin.H{"timeSeries": series, "totalCount": len(series)})
}

func (s *Server) getTimeSeries(c *gin.Context) {
	ts, err := s.repo.GetSeries(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (s *Server) executeCalculation(c *gin.Context) {
	var req models.CalculationRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request", "message": "Invalid JSON: " + err.Error()})
		return
	}

	calc, err := s.proc.Execute(c.Request.Context(), req)
	switch {
	case errors.Is(err, processor.ErrFormulaNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": fmt.Sprintf("Formula for location %s not found", req.LocationID()),
		})
	case errors.Is(err, processor.ErrTimeSliceNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": fmt.Sprintf("Time slice %d not found in formula", req.TimeSliceID),
		})
	case err != nil:
		s.internalError(c, err)
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"calculationId": calc.CalculationID,
			"status":        calc.Status,
			"acceptedAt":    calc.AcceptedAt,
		})
	}
}

func (s *Server) getCalculation(c *gin.Context) {
	calc, err := s.repo.GetCalculation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, calc)
}

func (s *Server) calculationEvents(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"timestamp":     models.Timestamp(s.now()),
		"version":       s.cfg.Service.Version,
		"specification": s.cfg.Service.Specification,
		"stats":         s.repo.Stats(),
	})
}

func (s *Server) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":          "EDI@Energy Formula API",
		"version":       s.cfg.Service.Version,
		"specification": s.cfg.Service.Specification,
		"description":   "EDI@Energy compliant API for transmitting calculation formulas",
		"endpoints": gin.H{
			"formula": gin.H{
				"POST /formula/v0.0.1":       "Submit formula (EDI@Energy compliant)",
				"GET /formulas":              "List all formulas",
				"GET /formulas/{locationId}": "Get specific formula",
			},
			"timeSeries": gin.H{
				"POST /v1/time-series":     "Submit time series",
				"GET /v1/time-series":      "Query time series",
				"GET /v1/time-series/{id}": "Get specific time series",
			},
			"calculations": gin.H{
				"POST /v1/calculations":       "Execute calculation",
				"GET /v1/calculations/{id}":   "Get calculation result",
				"GET /v1/calculations/events": "Stream calculation updates (websocket)",
			},
			"auth": gin.H{
				"POST /oauth/token": "Get OAuth2 token",
			},
			"health": gin.H{
				"GET /health":  "Health check",
				"GET /metrics": "Prometheus metrics",
			},
		},
		"requiredHeaders": gin.H{
			"transactionId":        "UUID RFC4122 (required)",
			"creationDateTime":     "ISO 8601 timestamp (required)",
			"initialTransactionId": "UUID RFC4122 (optional, for idempotency)",
		},
	})
}

func (s *Server) debugLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
}

func (s *Server) debugMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics": s.metricStore.records()})
}

func (s *Server) debugResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot(), "subscribers": s.hub.Subscribers()})
}
