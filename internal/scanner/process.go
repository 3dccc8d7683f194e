package scanner

import (
	"image"
	"image/color"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/frame"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

// process is the processing loop. It drains r.frames until the capture loop
// closes it, so frames queued before a stop are still accounted for.
func (s *Scanner) process(r *run, lookups calibration.LookupSet) {
	for {
		s.waitWhilePaused(r)
		p, ok := <-r.frames
		if !ok {
			return
		}
		if s.processHook != nil {
			s.processHook(p)
		}

		batch := s.processFrame(p, lookups)
		s.acc.Append(batch)

		// A full queue holds processing, and through the frame queue the
		// capture loop, until the consumer catches up.
		select {
		case s.results <- Result{Session: r.id, Batch: batch}:
		case <-r.abort:
			if s.dropped.Add(1) == 1 {
				monitoring.Logf("scanner: scan %s torn down with a full result queue, dropping batches", r.id)
			}
		}
	}
}

// processFrame turns one capture step into a filtered batch. A frame that
// cannot be reduced contributes an empty batch; the angle still advances.
func (s *Scanner) processFrame(p frame.Pair, lookups calibration.LookupSet) cloud.Batch {
	params := s.settings.FrameParams()
	bounds := s.settings.Bounds()
	zOffset := s.settings.ZOffset()

	out := cloud.Batch{
		Seq:    p.Seq,
		Theta:  p.Theta,
		Step:   p.Step,
		Points: []cloud.Point{},
		Colors: []color.RGBA{},
	}
	lasers := []struct {
		side calibration.Side
		img  image.Image
	}{
		{calibration.LeftLaser, p.LaserLeft},
		{calibration.RightLaser, p.LaserRight},
	}
	for _, l := range lasers {
		if l.img == nil {
			continue
		}
		ext, err := frame.Extract(p.Ambient, l.img, params)
		if err != nil {
			monitoring.Logf("scanner: frame %d %s laser: %v", p.Seq, l.side, err)
			continue
		}
		s.setPreview(l.side, ext)
		b := cloud.Triangulate(ext.Lines, lookups.For(l.side), p.Ambient, p.Theta, zOffset)
		out = out.Merge(bounds.Filter(b))
	}
	return out
}

func (s *Scanner) setPreview(side calibration.Side, ext *frame.Extraction) {
	s.previewMu.Lock()
	s.preview = previewFrame{side: side, ext: ext}
	s.previewMu.Unlock()
}
