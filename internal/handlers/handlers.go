package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/lehigh-university-libraries/defect-detect/internal/config"
	"github.com/lehigh-university-libraries/defect-detect/internal/models"
	"github.com/lehigh-university-libraries/defect-detect/internal/storage"
	"github.com/lehigh-university-libraries/defect-detect/internal/upload"
	"github.com/lehigh-university-libraries/defect-detect/internal/utils"
	"github.com/lehigh-university-libraries/defect-detect/pkg/metrics"
)

// multipartOverhead is headroom for boundaries and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

type Detector interface {
	Loaded() bool
	ClassNames() []string
	Predict(ctx context.Context, imagePath string) ([]models.Detection, float64, error)
	Draw(imagePath string, detections []models.Detection, outputPath string) error
}

type Handler struct {
	cfg      *config.Settings
	detector Detector
	store    *storage.FileStore
}

func New(cfg *config.Settings, detector Detector, store *storage.FileStore) *Handler {
	return &Handler{
		cfg:      cfg,
		detector: detector,
		store:    store,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.detector.Loaded(),
		AppName:     h.cfg.AppName,
		Version:     h.cfg.Version,
	})
}

func (h *Handler) Classes(c *gin.Context) {
	classes := h.detector.ClassNames()
	c.JSON(http.StatusOK, models.ClassesResponse{
		Classes:      classes,
		TotalClasses: len(classes),
	})
}

func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", models.IndexPage{
		AppName: h.cfg.AppName,
		Version: h.cfg.Version,
		Classes: h.detector.ClassNames(),
	})
}

// Predict validates and stores the upload, runs detection, writes the
// annotated copy next to it and triggers an age sweep of the upload
// directory. Files written before a failure stay on disk for the sweep.
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.fail(c, upload.TooLarge(h.cfg.MaxUploadSize))
			return
		}
		h.fail(c, &upload.Error{Status: http.StatusBadRequest, Detail: "No file uploaded"})
		return
	}

	if err := upload.ValidateExtension(fh.Filename, h.cfg.AllowedExtensions); err != nil {
		h.fail(c, err)
		return
	}
	if err := upload.ValidateSize(fh.Size, h.cfg.MaxUploadSize); err != nil {
		h.fail(c, err)
		return
	}

	file, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer file.Close()

	uploadPath, err := h.store.Save(file, fh.Filename)
	if err != nil {
		h.fail(c, err)
		return
	}

	detections, elapsed, err := h.detector.Predict(c.Request.Context(), uploadPath)
	if err != nil {
		h.fail(c, err)
		return
	}

	annotatedPath := h.store.AnnotatedPath(uploadPath)
	if err := h.detector.Draw(uploadPath, detections, annotatedPath); err != nil {
		h.fail(c, err)
		return
	}

	h.store.CleanupAsync(h.cfg.CleanupMaxAge)

	if detections == nil {
		detections = []models.Detection{}
	}
	metrics.Predictions.WithLabelValues(metrics.OutcomeSuccess).Inc()
	slog.Info("Prediction complete",
		"image", fh.Filename,
		"stored", filepath.Base(uploadPath),
		"detections", len(detections),
		"inference_time", elapsed,
	)

	c.JSON(http.StatusOK, models.PredictionResponse{
		Success:         true,
		ImageName:       fh.Filename,
		Detections:      detections,
		TotalDetections: len(detections),
		InferenceTime:   math.Round(elapsed*1000) / 1000,
		ImageURL:        path.Join(h.cfg.StaticURLPrefix, filepath.Base(annotatedPath)),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	var uploadErr *upload.Error
	if errors.As(err, &uploadErr) {
		metrics.Predictions.WithLabelValues(metrics.OutcomeClientError).Inc()
		slog.Warn("Upload rejected", "status", uploadErr.Status, "detail", uploadErr.Detail)
		utils.RespondWithError(c, uploadErr.Detail, uploadErr.Status)
		return
	}

	metrics.Predictions.WithLabelValues(metrics.OutcomeServerError).Inc()
	slog.Error("Prediction failed", "err", err)

	detail := "Prediction failed"
	if h.cfg.Debug {
		detail = err.Error()
	}
	utils.RespondWithError(c, detail, http.StatusInternalServerError)
}
