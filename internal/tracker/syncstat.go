package tracker

import (
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/reconcile"
)

type syncStat struct {
	Kind      history.Kind
	StartTime time.Time
	EndTime   time.Time
	Seen      uint
	Inserted  uint
	Changed   uint
	Landed    uint
	Events    []history.Event
}

func (s *syncStat) addReconcile(rs *reconcile.Stats) {
	s.Seen += rs.Seen
	s.Inserted += rs.Inserted
	s.Changed += rs.Changed
}

func (s *syncStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("sync_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("sync.seen", s.Seen),
		zap.Uint("sync.inserted", s.Inserted),
		zap.Uint("sync.changed", s.Changed),
		zap.Uint("sync.landed", s.Landed),
		zap.Int("sync.events", len(s.Events)),
	}
}
