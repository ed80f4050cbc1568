package blobstore

import (
	"context"
	"fmt"
)

// Replicate copies (or moves) srcKey of src into dst and returns the key it
// has in dst.
//
// A digest destination keeps the source key as is, unless the source is not
// deduplicated, in which case the content is rehashed on write. A DocID
// destination derives its own key from docID and versionID. Returns "" when
// srcKey does not exist.
func Replicate(ctx context.Context, dst, src *Store, srcKey, docID, versionID string, move bool) (string, error) {
	if dst.strategy.IsDeduplicated() && !src.strategy.IsDeduplicated() {
		return rehash(ctx, dst, src, srcKey, docID, versionID, move)
	}

	destKey := dst.strategy.KeyFor(srcKey, docID, versionID)
	return dst.CopyOrMoveBlob(ctx, destKey, src, srcKey, move)
}

func rehash(ctx context.Context, dst, src *Store, srcKey, docID, versionID string, move bool) (string, error) {
	ok, err := src.Exists(ctx, srcKey)
	if err != nil || !ok {
		return "", err
	}

	rc, err := src.Get(ctx, srcKey)
	if err != nil {
		return "", err
	}
	info, err := dst.Put(ctx, BlobContext{Reader: rc, DocID: docID, VersionID: versionID})
	rc.Close()
	if err != nil {
		return "", err
	}

	if move {
		if _, err := src.Delete(ctx, srcKey); err != nil {
			return "", fmt.Errorf("blobstore: move: delete source: %w", err)
		}
	}
	return info.Key, nil
}
