package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"decisionsupport/internal/blob"
	"decisionsupport/internal/domain"
)

const fileContentType = "application/json"

var errNoBlobStore = errors.New("no blob store configured")

func fileKey(id int64) string {
	return fmt.Sprintf("decision-support/%d.json", id)
}

func fileFromInfo(id int64, info blob.Info) domain.DecisionSupportFile {
	return domain.DecisionSupportFile{
		EntityID:    id,
		Key:         info.Key,
		ContentType: info.ContentType,
		Size:        info.Size,
		ETag:        info.ETag,
		UpdatedAt:   info.LastModified.UTC().Format(time.RFC3339),
	}
}

// ExportDecisionSupportFile writes the decision support payload to blob storage, replacing any earlier export.
func (e Engine) ExportDecisionSupportFile(ctx context.Context, id string) (domain.DecisionSupportFile, error) {
	ds, err := e.loadDecisionSupport(ctx, id)
	if err != nil {
		return domain.DecisionSupportFile{}, err
	}
	if e.Blobs == nil {
		return domain.DecisionSupportFile{}, e.upstream("exporting Decision Support File", errNoBlobStore)
	}
	info, err := e.Blobs.Put(ctx, fileKey(ds.ID), strings.NewReader(ds.JSONString), fileContentType)
	if err != nil {
		return domain.DecisionSupportFile{}, e.upstream("exporting Decision Support File", err)
	}
	e.logger().Info("Exported DecisionSupport file", "id", ds.ID, "key", info.Key, "size", info.Size)
	return fileFromInfo(ds.ID, info), nil
}

// GetDecisionSupportFile reads back an exported file with its content.
func (e Engine) GetDecisionSupportFile(ctx context.Context, id string) (domain.DecisionSupportFile, error) {
	ds, err := e.loadDecisionSupport(ctx, id)
	if err != nil {
		return domain.DecisionSupportFile{}, err
	}
	if e.Blobs == nil {
		return domain.DecisionSupportFile{}, e.upstream("loading Decision Support File", errNoBlobStore)
	}
	info, rc, err := e.Blobs.Get(ctx, fileKey(ds.ID))
	if errors.Is(err, blob.ErrNotFound) {
		return domain.DecisionSupportFile{}, NotFoundError{Kind: "Decision Support File", ID: id}
	}
	if err != nil {
		return domain.DecisionSupportFile{}, e.upstream("loading Decision Support File", err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return domain.DecisionSupportFile{}, e.upstream("loading Decision Support File", err)
	}
	if len(content) > 0 && !json.Valid(content) {
		return domain.DecisionSupportFile{}, e.upstream("loading Decision Support File", fmt.Errorf("file %s is not valid JSON", info.Key))
	}
	file := fileFromInfo(ds.ID, info)
	file.Content = content
	return file, nil
}
