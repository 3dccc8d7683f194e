package scanner

import (
	"fmt"
	"image"
	"math"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/frame"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

// fullTurn is the angle after which a scan ends on its own.
const fullTurn = 360.0

// capture is the capture loop. It owns the board and camera for the
// duration of the scan and closes r.frames on exit.
func (s *Scanner) capture(r *run) {
	defer close(r.frames)
	defer s.makeSafe()

	if err := s.prepareMotor(); err != nil {
		s.fail(fmt.Errorf("prepare motor: %w", err))
		return
	}

	var seq uint64
	theta := 0.0
	for {
		if !s.waitWhilePaused(r) {
			return
		}
		deg := s.settings.Degrees()

		pair, err := s.captureStep(seq, theta, deg)
		if err != nil {
			s.fail(fmt.Errorf("capture frame %d: %w", seq, err))
			return
		}
		if err := s.advance(deg); err != nil {
			s.fail(fmt.Errorf("move turntable: %w", err))
			return
		}

		// The step is already taken, so a stop still queues its frame;
		// processing drains the queue before exiting.
		select {
		case r.frames <- pair:
		case <-r.abort:
			return
		}

		seq++
		theta += deg
		s.setTheta(theta)
		monitoring.Debugf("scanner: frame %d queued at theta %.3f", pair.Seq, pair.Theta)
		if math.Abs(theta) >= fullTurn {
			return
		}
	}
}

func (s *Scanner) prepareMotor() error {
	if !s.settings.MoveMotor() {
		return s.dev.Disable()
	}
	if err := s.dev.SetMotorSpeed(s.settings.MotorSpeed()); err != nil {
		return err
	}
	return s.dev.Enable()
}

// captureStep takes the ambient image with both lasers off, then one image
// per enabled laser with only that laser lit.
func (s *Scanner) captureStep(seq uint64, theta, deg float64) (frame.Pair, error) {
	pair := frame.Pair{Seq: seq, Theta: theta, Step: deg}

	left, right := s.settings.UseLeftLaser(), s.settings.UseRightLaser()
	for _, side := range []calibration.Side{calibration.LeftLaser, calibration.RightLaser} {
		if err := s.dev.SetLaserOff(side); err != nil {
			return pair, err
		}
	}

	ambient, err := s.cam.CaptureImage(true, s.opts.FlushAmbient)
	if err != nil {
		return pair, fmt.Errorf("ambient: %w", err)
	}
	pair.Ambient = ambient

	if left {
		if pair.LaserLeft, err = s.captureLit(calibration.LeftLaser); err != nil {
			return pair, err
		}
	}
	if right {
		if pair.LaserRight, err = s.captureLit(calibration.RightLaser); err != nil {
			return pair, err
		}
	}
	return pair, nil
}

func (s *Scanner) captureLit(side calibration.Side) (image.Image, error) {
	if err := s.dev.SetLaserOn(side); err != nil {
		return nil, err
	}
	img, err := s.cam.CaptureImage(true, s.opts.FlushLaser)
	if offErr := s.dev.SetLaserOff(side); offErr != nil && err == nil {
		err = offErr
	}
	if err != nil {
		return nil, fmt.Errorf("%s laser: %w", side, err)
	}
	return img, nil
}

// advance steps the turntable by deg. The table turns clockwise when the
// left laser is in use so the lit side faces the camera first.
func (s *Scanner) advance(deg float64) error {
	if !s.settings.MoveMotor() {
		s.opts.Clock.Sleep(s.opts.MotorIdle)
		return nil
	}
	step := deg
	if s.settings.UseLeftLaser() {
		step = -deg
	}
	if err := s.dev.SetRelativePosition(step); err != nil {
		return err
	}
	return s.dev.CommitMove()
}

// waitWhilePaused blocks while the scan is paused. It reports false once a
// stop has been requested.
func (s *Scanner) waitWhilePaused(r *run) bool {
	for s.paused.Load() {
		if r.stopping() {
			return false
		}
		s.opts.Clock.Sleep(s.opts.PausePoll)
	}
	return !r.stopping()
}
