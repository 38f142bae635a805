package firestore

import (
	"reflect"
	"testing"
	"time"

	domain "github.com/pv-frame/api/internal/domain"
)

func TestSessionDocumentRoundTrip(t *testing.T) {
	now := time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)
	session := domain.ConfigurationSession{
		ID: "01HZX",
		Configuration: domain.Configuration{
			Art:         domain.ArtReference{ID: "upload:01HZY", URL: "https://cdn/u.jpg", Ratio: "3:2", Title: "Praia", Source: domain.ArtSourceUpload},
			Frame:       domain.FrameOptions{Color: "#D4A574", ThicknessMm: 20, DepthMm: 35},
			Matte:       domain.MatteOptions{Enabled: true, WidthCm: 5, Color: "#F8F8F8"},
			Size:        domain.PrintSize{WidthCm: 60, HeightCm: 90},
			Material:    "canvas",
			Glass:       "museu",
			SnapshotURL: "https://cdn/snap.png",
			BaseSKU:     "QUAD-PERS",
			Price:       459,
		},
		Uploads:   []domain.ArtReference{{ID: "upload:01HZY", URL: "https://cdn/u.jpg", Source: domain.ArtSourceUpload}},
		CreatedAt: now,
		UpdatedAt: now.Add(time.Minute),
		ExpiresAt: now.Add(24 * time.Hour),
	}

	got := decodeSession(session.ID, encodeSession(session))
	if !reflect.DeepEqual(session, got) {
		t.Fatalf("round trip mismatch:\nwant %#v\ngot  %#v", session, got)
	}
}

func TestSessionRepositoryHidesExpired(t *testing.T) {
	now := time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)
	repo := &SessionRepository{now: func() time.Time { return now }}

	if !repo.expired(domain.ConfigurationSession{ExpiresAt: now}) {
		t.Fatalf("expected session expiring now to be expired")
	}
	if repo.expired(domain.ConfigurationSession{ExpiresAt: now.Add(time.Second)}) {
		t.Fatalf("expected future session to be live")
	}
	if repo.expired(domain.ConfigurationSession{}) {
		t.Fatalf("expected session without expiry to be live")
	}
}

func TestSameInstantIgnoresSubMicrosecondDigits(t *testing.T) {
	written := time.Date(2025, time.June, 2, 9, 30, 0, 123456789, time.UTC)
	stored := written.Truncate(time.Microsecond)

	if !sameInstant(stored, written) {
		t.Fatalf("expected stored timestamp to match the written one")
	}
	if sameInstant(stored, written.Add(time.Microsecond)) {
		t.Fatalf("expected a later write to be detected")
	}
}
