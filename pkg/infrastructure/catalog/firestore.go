// Package catalog implements the chart/song lookup over Firestore. The
// catalog is maintained by a separate seeding process; the import pipeline
// only reads it, except for promotions out of the unverified chart queue.
package catalog

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/kyoku-gg/server/pkg"
	"github.com/kyoku-gg/server/pkg/domain/gamemode"
	"github.com/kyoku-gg/server/pkg/types"
)

// folderDoc is the stored shape of a folder: a named chart ID list.
type folderDoc struct {
	FolderID string   `firestore:"folder_id"`
	ChartIDs []string `firestore:"chart_ids"`
}

type FirestoreCatalog struct {
	fs *firestore.Client
}

func NewFirestoreCatalog(client *firestore.Client) *FirestoreCatalog {
	return &FirestoreCatalog{fs: client}
}

// Resolve looks a chart reference up. Unknown references return (nil, nil,
// nil): absence is the orphan trigger, not an error.
func (c *FirestoreCatalog) Resolve(ctx context.Context, mode gamemode.Mode, ref types.ChartRef) (*types.Chart, *types.Song, error) {
	var chart *types.Chart

	if ref.ChartID != "" {
		snap, err := c.fs.Collection(shared.CollectionCharts).Doc(ref.ChartID).Get(ctx)
		if status.Code(err) == codes.NotFound {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		var v types.Chart
		if err := snap.DataTo(&v); err != nil {
			return nil, nil, err
		}
		chart = &v
	} else {
		// Title/difficulty lookup for services that do not carry chart IDs.
		songs, err := c.fs.Collection(shared.CollectionSongs).
			Where("title", "==", ref.SongTitle).Limit(1).Documents(ctx).GetAll()
		if err != nil {
			return nil, nil, err
		}
		if len(songs) == 0 {
			return nil, nil, nil
		}
		var song types.Song
		if err := songs[0].DataTo(&song); err != nil {
			return nil, nil, err
		}

		charts, err := c.fs.Collection(shared.CollectionCharts).
			Where("song_id", "==", song.SongID).
			Where("mode", "==", int(mode)).
			Where("difficulty", "==", ref.Difficulty).
			Limit(1).Documents(ctx).GetAll()
		if err != nil {
			return nil, nil, err
		}
		if len(charts) == 0 {
			return nil, nil, nil
		}
		var v types.Chart
		if err := charts[0].DataTo(&v); err != nil {
			return nil, nil, err
		}
		chart = &v
	}

	if chart.Mode != mode {
		// A chart ID pointing at the wrong mode is a bad reference, handled
		// the same as an unknown one.
		return nil, nil, nil
	}

	songSnap, err := c.fs.Collection(shared.CollectionSongs).Doc(chart.SongID).Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chart %s references song %s: %w", chart.ChartID, chart.SongID, err)
	}
	var song types.Song
	if err := songSnap.DataTo(&song); err != nil {
		return nil, nil, err
	}
	return chart, &song, nil
}

func (c *FirestoreCatalog) MembersOf(ctx context.Context, folderID string) ([]string, error) {
	snap, err := c.fs.Collection(shared.CollectionFolders).Doc(folderID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc folderDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.ChartIDs, nil
}

func (c *FirestoreCatalog) CountCharts(ctx context.Context, mode gamemode.Mode) (int, error) {
	snaps, err := c.fs.Collection(shared.CollectionCharts).
		Where("mode", "==", int(mode)).Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	return len(snaps), nil
}

// CreateChart writes a promoted chart and its song. Set semantics: a
// concurrent promotion of the same definition converges.
func (c *FirestoreCatalog) CreateChart(ctx context.Context, chart *types.Chart, song *types.Song) error {
	if _, err := c.fs.Collection(shared.CollectionSongs).Doc(song.SongID).Set(ctx, song); err != nil {
		return fmt.Errorf("writing song %s: %w", song.SongID, err)
	}
	if _, err := c.fs.Collection(shared.CollectionCharts).Doc(chart.ChartID).Set(ctx, chart); err != nil {
		return fmt.Errorf("writing chart %s: %w", chart.ChartID, err)
	}
	return nil
}
