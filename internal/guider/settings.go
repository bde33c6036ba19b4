package guider

// SelectCamera selects the guide camera by name.
func (s *Service) SelectCamera(name string) error {
	return s.cmd.SelectCamera(name)
}

// SetFocalLength sets the guide scope focal length in millimetres.
func (s *Service) SetFocalLength(mm int32) error {
	return s.cmd.SetFocalLength(mm)
}

// SetMultiStar enables or disables multi-star guiding.
func (s *Service) SetMultiStar(enabled bool) error {
	return s.cmd.SetMultiStar(enabled)
}

// SetPixelSize sets the camera pixel size in micrometres.
func (s *Service) SetPixelSize(um float64) error {
	return s.cmd.SetPixelSize(um)
}

// SetGain sets the guide camera gain.
func (s *Service) SetGain(gain int32) error {
	return s.cmd.SetGain(gain)
}

// SetCalibrationStep sets the calibration pulse length in milliseconds.
func (s *Service) SetCalibrationStep(ms int32) error {
	return s.cmd.SetCalibrationStep(ms)
}

// SetRaAggression sets the RA correction aggressiveness in percent.
func (s *Service) SetRaAggression(percent int32) error {
	return s.cmd.SetRaAggression(percent)
}

// SetDecAggression sets the declination correction aggressiveness in
// percent.
func (s *Service) SetDecAggression(percent int32) error {
	return s.cmd.SetDecAggression(percent)
}
