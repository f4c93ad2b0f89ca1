package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/medisnap/prescriptionflow/internal/gcp"
	"github.com/medisnap/prescriptionflow/internal/models"
)

// TextRecognizer is the narrow interface onto the OCR collaborator.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, image []byte) (string, error)
}

// IngesterConfig holds configuration for the scan-ingester service.
type IngesterConfig struct {
	ProjectID         string
	VertexAIRegion    string
	ScanArchiveBucket string
	CollectionName    string
}

// IngesterFunction turns an uploaded prescription scan (photo or scanned
// PDF) into an extracted Prescription document with status "extracted".
type IngesterFunction struct {
	storageClient   *storage.Client
	firestoreClient *firestore.Client
	ocr             TextRecognizer
	extractor       *Extractor
	identity        IdentityProvider
	config          IngesterConfig
}

// GCSEvent is the payload of a GCS object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// NewIngester creates an IngesterFunction with all clients initialized
// from the environment.
func NewIngester(ctx context.Context) (*IngesterFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := IngesterConfig{
		ProjectID:         projectID,
		VertexAIRegion:    gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		ScanArchiveBucket: gcp.GetEnv("SCAN_ARCHIVE_BUCKET", ""),
		CollectionName:    gcp.GetEnv("FIRESTORE_COLLECTION", "prescriptions"),
	}
	if config.ScanArchiveBucket == "" {
		return nil, fmt.Errorf("SCAN_ARCHIVE_BUCKET environment variable must be set")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	visionClient, err := gcp.NewVisionOCR(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return &IngesterFunction{
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		ocr:             visionClient,
		extractor:       NewExtractor(vertexClient.Extractor()),
		identity:        NewAnonymousIdentity(),
		config:          config,
	}, nil
}

// Process handles one uploaded scan end to end: download, OCR, structured
// extraction, and the initial prescription document write. Extraction
// failure means the pipeline never starts for this scan.
func (f *IngesterFunction) Process(ctx context.Context, e GCSEvent) (*models.ScanIngestResponse, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new prescription scan.")

	tempDir, err := os.MkdirTemp("", "scan-ingester-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	scanPath := filepath.Join(tempDir, "scan"+strings.ToLower(filepath.Ext(e.Name)))
	if err := f.streamGCSObject(ctx, e.Bucket, e.Name, scanPath); err != nil {
		logCtx.Error("Failed to download scan", "error", err)
		return nil, err
	}

	scanHash, err := calculateFileHash(scanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate scan hash: %w", err)
	}
	logCtx = logCtx.With("scanHash", scanHash)

	// The same scan is never persisted twice under different ids.
	if existingID, err := f.existingPrescription(ctx, scanHash); err != nil {
		return nil, err
	} else if existingID != "" {
		logCtx.Info("Duplicate scan detected. Skipping.", "existingPrescriptionId", existingID)
		return &models.ScanIngestResponse{Status: "duplicate", PrescriptionID: existingID}, nil
	}

	text, err := f.recognize(ctx, scanPath, tempDir)
	if err != nil {
		logCtx.Error("Text recognition failed", "error", err)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("scan %s: %w", e.Name, ErrUnusableImage)
	}

	// Archive the raw OCR text next to the scan for later inspection.
	bucketHandle := f.storageClient.Bucket(f.config.ScanArchiveBucket)
	if err := gcp.SaveToGCSAtomically(ctx, bucketHandle, scanHash+"/ocr.txt", text); err != nil {
		logCtx.Warn("Failed to archive OCR text, continuing.", "error", err)
	}

	meds, dateStr, err := f.extractor.Extract(ctx, text)
	if err != nil {
		logCtx.Error("Structured extraction failed", "error", err)
		return nil, err
	}

	date := time.Now()
	if dateStr != "" {
		if parsed, perr := time.Parse("2006-01-02", dateStr); perr == nil {
			date = parsed
		} else {
			logCtx.Warn("Could not parse prescription date, using now.", "date", dateStr)
		}
	}

	userID, _, err := f.identity.CurrentUser(ctx)
	if err != nil {
		anon := NewAnonymousIdentity()
		userID = anon.ID
		logCtx.Info("No signed-in user, persisting anonymously.", "userId", userID)
	}

	now := time.Now()
	prescription := models.Prescription{
		ID:          uuid.NewString(),
		Date:        date,
		Medications: meds,
		UserID:      userID,
		ScanHash:    scanHash,
		Status:      models.StatusExtracted,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if _, err := f.firestoreClient.Collection(f.config.CollectionName).Doc(prescription.ID).Set(ctx, &prescription); err != nil {
		logCtx.Error("Failed to create prescription document", "error", err)
		return nil, fmt.Errorf("failed to create prescription document: %w", err)
	}

	logCtx.Info("Scan ingested.", "prescriptionId", prescription.ID, "medicationCount", len(meds))
	return &models.ScanIngestResponse{
		Status:          "success",
		PrescriptionID:  prescription.ID,
		MedicationCount: len(meds),
	}, nil
}

// recognize OCRs the scan. Scanned PDFs have their embedded page images
// extracted and recognized page by page; plain photos are recognized
// directly.
func (f *IngesterFunction) recognize(ctx context.Context, scanPath, tempDir string) (string, error) {
	if strings.ToLower(filepath.Ext(scanPath)) != ".pdf" {
		image, err := os.ReadFile(scanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read scan: %w", err)
		}
		return f.ocr.RecognizeText(ctx, image)
	}

	imagesDir := filepath.Join(tempDir, "pages")
	if err := os.Mkdir(imagesDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create pages dir: %w", err)
	}
	if err := api.ExtractImagesFile(scanPath, imagesDir, nil, nil); err != nil {
		return "", fmt.Errorf("failed to extract page images: %w", err)
	}

	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return "", fmt.Errorf("failed to list page images: %w", err)
	}
	var pages []string
	for _, entry := range entries {
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".tif", ".tiff", ".webp":
			pages = append(pages, filepath.Join(imagesDir, entry.Name()))
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("pdf scan: %w", ErrUnusableImage)
	}
	sort.Strings(pages)

	texts := make([]string, len(pages))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, page := range pages {
		i, page := i, page
		eg.Go(func() error {
			image, err := os.ReadFile(page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			text, err := f.ocr.RecognizeText(gctx, image)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}
	return strings.Join(texts, "\n"), nil
}

func (f *IngesterFunction) existingPrescription(ctx context.Context, scanHash string) (string, error) {
	docs, err := f.firestoreClient.Collection(f.config.CollectionName).
		Where("scanHash", "==", scanHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to query for duplicate scans: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, nil
	}
	return "", nil
}

func (f *IngesterFunction) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	reader, err := f.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, reader); err != nil {
		return fmt.Errorf("failed to stream GCS object: %w", err)
	}
	return nil
}

func calculateFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
