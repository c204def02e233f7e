// Package storage provides blob storage on Google Cloud Storage. The import
// pipeline uses it to archive raw submission payloads next to their batch
// records.
package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// StorageAdapter implements the shared BlobStore interface over GCS.
type StorageAdapter struct {
	Client *storage.Client
}

func (a *StorageAdapter) Write(ctx context.Context, bucketName, objectName string, data []byte) error {
	wc := a.Client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		return err
	}
	return wc.Close()
}

// ArchiveObject is the canonical object path for a batch's raw payload.
func ArchiveObject(userID, importID string) string {
	return fmt.Sprintf("raw-imports/%s/%s.json", userID, importID)
}

// ArchiveURI renders the gs:// form stored on the import batch record.
func ArchiveURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}
