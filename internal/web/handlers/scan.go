package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/facegate/facegate/internal/attendance"
	"github.com/facegate/facegate/internal/geofence"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/vision"
)

// maxScanUploadSize caps one kiosk capture at 10 MB.
const maxScanUploadSize = 10 << 20

// ScanHandler runs the capture-to-decision pipeline for kiosk scans.
type ScanHandler struct {
	engine *attendance.Engine
	vision vision.Provider
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(engine *attendance.Engine, provider vision.Provider) *ScanHandler {
	return &ScanHandler{engine: engine, vision: provider}
}

// Scan handles one kiosk capture: multipart form with an "image" file plus
// capture metadata fields. Expected denials come back as a decision with
// accepted=false; only pipeline failures produce error statuses.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxScanUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	population := attendance.PopulationEmployee
	if r.FormValue("population") == string(attendance.PopulationVisitor) {
		population = attendance.PopulationVisitor
	}

	ctx := r.Context()

	boxes, err := h.vision.Detect(ctx, image)
	if err != nil {
		log.Printf("Face detection failed: %v", err)
		respondError(w, http.StatusBadGateway, "face detection unavailable")
		return
	}
	if len(boxes) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face detected")
		return
	}
	if len(boxes) > 1 {
		respondError(w, http.StatusUnprocessableEntity, "multiple faces detected")
		return
	}
	box := boxes[0]

	embedding, err := h.vision.Encode(ctx, image, box)
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrNoFace):
			respondError(w, http.StatusUnprocessableEntity, "no face detected")
		case errors.Is(err, vision.ErrMultiFace):
			respondError(w, http.StatusUnprocessableEntity, "multiple faces detected")
		default:
			log.Printf("Face encoding failed: %v", err)
			respondError(w, http.StatusBadGateway, "face encoding unavailable")
		}
		return
	}

	liveness, err := h.vision.Score(ctx, image, box)
	if err != nil {
		log.Printf("Liveness scoring failed: %v", err)
		respondError(w, http.StatusBadGateway, "liveness scoring unavailable")
		return
	}

	in := attendance.ScanInput{
		Population: population,
		Embedding:  embedding,
		Liveness:   &liveness,
		Signals:    parseSignals(r),
		Fix:        parseFix(r),
	}

	decision, err := h.engine.Decide(ctx, in)
	if err != nil {
		log.Printf("Scan decision failed: %v", err)
		respondError(w, http.StatusInternalServerError, "decision failed")
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// parseSignals reads the kiosk's capture quality metadata. Missing fields
// leave the neutral zero values, which attract their own penalties.
func parseSignals(r *http.Request) match.CaptureSignals {
	var s match.CaptureSignals
	if v, err := strconv.ParseFloat(r.FormValue("brightness"), 64); err == nil {
		s.Brightness = v
	}
	if v, err := strconv.ParseFloat(r.FormValue("confidence"), 64); err == nil {
		s.Confidence = v
	}
	if v, err := strconv.Atoi(r.FormValue("image_width")); err == nil {
		s.ImageWidth = v
	}
	if v, err := strconv.ParseBool(r.FormValue("mobile")); err == nil {
		s.MobileDevice = v
	}
	return s
}

// parseFix reads the optional GPS fields. A capture without latitude and
// longitude carries no fix at all.
func parseFix(r *http.Request) *geofence.Fix {
	lat, latErr := strconv.ParseFloat(r.FormValue("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if latErr != nil || lonErr != nil {
		return nil
	}

	fix := &geofence.Fix{Latitude: lat, Longitude: lon}
	if acc, err := strconv.ParseFloat(r.FormValue("accuracy"), 64); err == nil {
		fix.Accuracy = &acc
	}
	return fix
}
