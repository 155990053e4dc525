package catalog

import (
	"context"
	"errors"
	"fmt"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrContentDefects документ нарушает инварианты графа, импорт в строгом режиме отклонен.
var ErrContentDefects = errors.New("story document has content defects")

// Report итог импорта.
type Report struct {
	StoryID    uuid.UUID
	Characters int
	Nodes      int
	Defects    []Defect
}

// Importer записывает документы историй в каталог.
type Importer struct {
	tx     interfaces.TxManager
	writer interfaces.CatalogWriter
	logger *zap.Logger
}

func NewImporter(tx interfaces.TxManager, writer interfaces.CatalogWriter, logger *zap.Logger) *Importer {
	return &Importer{
		tx:     tx,
		writer: writer,
		logger: logger.Named("CatalogImporter"),
	}
}

// Import в нестрогом режиме сохраняет историю с дефектами, они попадают в отчет и метрики.
// В строгом режиме любой дефект отменяет запись.
func (i *Importer) Import(ctx context.Context, doc *Document, strict bool) (*Report, error) {
	story, nodes := doc.Build()
	report := &Report{
		StoryID:    story.ID,
		Characters: len(story.Characters),
		Nodes:      len(nodes),
		Defects:    doc.Check(),
	}
	log := i.logger.With(zap.String("slug", doc.Slug), zap.Stringer("storyID", story.ID))

	for _, d := range report.Defects {
		metrics.ContentDefectsTotal.WithLabelValues(string(d.Code)).Inc()
		log.Warn("Content defect", zap.String("code", string(d.Code)), zap.String("nodeKey", d.NodeKey), zap.String("detail", d.Message))
	}
	if strict && len(report.Defects) > 0 {
		return report, fmt.Errorf("%w: %d found", ErrContentDefects, len(report.Defects))
	}

	err := i.tx.WithTx(ctx, func(tx interfaces.DBTX) error {
		return i.writer.UpsertStory(ctx, tx, story, nodes)
	})
	if err != nil {
		log.Error("Story import failed", zap.Error(err))
		return report, fmt.Errorf("failed to import story %q: %w", doc.Slug, err)
	}
	log.Info("Story imported", zap.Int("characters", report.Characters), zap.Int("nodes", report.Nodes), zap.Int("defects", len(report.Defects)))
	return report, nil
}
