package oxia

import (
	"context"
	"strings"
	"testing"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/dray-io/bulkgc/internal/metadata"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "empty service address",
			cfg:     Config{Namespace: "bulkgc/default"},
			wantErr: "service address is required",
		},
		{
			name:    "empty namespace",
			cfg:     Config{ServiceAddress: "localhost:6648"},
			wantErr: "namespace is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVersionMapping(t *testing.T) {
	if got := oxiaToMetadataVersion(0); got != 1 {
		t.Errorf("oxiaToMetadataVersion(0) = %d, want 1", got)
	}
	for _, v := range []metadata.Version{1, 2, 1000} {
		if got := oxiaToMetadataVersion(metadataToOxiaVersion(v)); got != v {
			t.Errorf("version %d did not survive mapping, got %d", v, got)
		}
	}
}

func TestScanEnd(t *testing.T) {
	if got := scanEnd("/bulkgc/v1/users/alice/"); got != "/bulkgc/v1/users/alice//" {
		t.Errorf("scanEnd(children) = %q", got)
	}
	if got := scanEnd("/bulkgc/v1/commands/c"); got != metadata.PrefixEnd("/bulkgc/v1/commands/c") {
		t.Errorf("scanEnd(prefix) = %q", got)
	}
}

func TestMapErr(t *testing.T) {
	if err := mapErr("put", nil); err != nil {
		t.Fatalf("mapErr(nil) = %v", err)
	}
	if err := mapErr("put k", oxiaclient.ErrUnexpectedVersionId); err != metadata.ErrVersionMismatch {
		t.Fatalf("mapErr(version) = %v, want ErrVersionMismatch", err)
	}
}
