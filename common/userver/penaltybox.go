//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package userver

import (
	"context"
	"math/rand/v2"
	"time"
)

// PenaltyBox delays a failed request by PenaltyBoxMin to PenaltyBoxMax
// milliseconds, or until the request is canceled
func (s *HServer) PenaltyBox(ctx context.Context) {
	if s.PenaltyBoxMax <= 0 || s.PenaltyBoxMin > s.PenaltyBoxMax {
		return
	}

	delay := s.PenaltyBoxMin
	if s.PenaltyBoxMax > s.PenaltyBoxMin {
		delay += rand.IntN(s.PenaltyBoxMax - s.PenaltyBoxMin)
	}

	t := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
