package figures

import (
	"context"
	"fmt"
	"io"
	"strings"

	"figureworks/internal/domain"
	"figureworks/pkg/zip"
)

// Export writes a zip of the caller's finished figures to w and returns how
// many images it contains. Missing blobs are skipped.
func (s *Service) Export(ctx context.Context, ownerID string, w io.Writer) (int, error) {
	figs, err := s.figures.ListByOwner(ctx, ownerID, maxListLimit)
	if err != nil {
		return 0, err
	}
	assets := make([]zip.Asset, 0, len(figs))
	for _, f := range figs {
		if f.Status != domain.FigureStatusDone || f.ResultImageRef == "" {
			continue
		}
		obj, err := s.blobs.Get(ctx, f.ResultImageRef)
		if err != nil {
			s.log.Warn().Err(err).Str("figure_id", f.ID).Msg("export: skip missing blob")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: exportName(f),
			Data:     obj.Data,
			Modified: f.UpdatedAt,
		})
	}
	if err := zip.WriteAssets(w, assets); err != nil {
		return 0, err
	}
	return len(assets), nil
}

func exportName(f domain.Figure) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, f.Params.Name)
	if slug == "" {
		slug = "figure"
	}
	short := f.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s.png", slug, short)
}
