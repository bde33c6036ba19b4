package command

import (
	"fmt"

	"github.com/QHYCCD-QUARCS/guidelink/internal/protocol"
)

// Version asks the autoguider for its version string.
func (c *Client) Version() (string, error) {
	resp, err := c.Send(protocol.OpGetVersion, nil)
	if err != nil {
		return "", err
	}
	v, err := protocol.DecodeString(resp)
	if err != nil {
		return "", fmt.Errorf("%s: %w", protocol.OpGetVersion, err)
	}
	return v, nil
}

// CheckStatus returns the autoguider's status byte.
func (c *Client) CheckStatus() (uint8, error) {
	resp, err := c.Send(protocol.OpCheckStatus, nil)
	if err != nil {
		return 0, err
	}
	return protocol.DecodeStatus(resp)
}

// ClearCalibration discards the current calibration.
func (c *Client) ClearCalibration() error {
	return c.ack(protocol.OpClearCalibration, nil)
}

// StartLooping starts continuous exposures.
func (c *Client) StartLooping() error {
	return c.ack(protocol.OpStartLooping, nil)
}

// StopLooping stops exposures, and with them guiding.
func (c *Client) StopLooping() error {
	return c.ack(protocol.OpStopLooping, nil)
}

// AutoFindStar selects a guide star automatically.
func (c *Client) AutoFindStar() error {
	return c.ack(protocol.OpAutoFindStar, nil)
}

// StartGuiding calibrates if needed, then guides.
func (c *Client) StartGuiding() error {
	return c.ack(protocol.OpStartGuiding, nil)
}

// SetExposureTime sets the guide exposure in milliseconds.
func (c *Client) SetExposureTime(ms uint32) error {
	return c.ack(protocol.OpSetExposureTime, protocol.EncodeU32(ms))
}

// SelectCamera selects the guide camera by name.
func (c *Client) SelectCamera(name string) error {
	payload, err := protocol.EncodeCameraName(name)
	if err != nil {
		return fmt.Errorf("%s: %w", protocol.OpSelectCamera, err)
	}
	return c.ack(protocol.OpSelectCamera, payload)
}

// CheckControlAck tells the autoguider the pulse with this sequence is done.
func (c *Client) CheckControlAck(sequence uint32) error {
	return c.ack(protocol.OpCheckControlAck, protocol.EncodeU32(sequence))
}

// StarClick selects the star nearest to image coordinates (x, y).
func (c *Client) StarClick(x, y int32) error {
	return c.ack(protocol.OpStarClick, protocol.EncodeI32Pair(x, y))
}

// SetFocalLength sets the guide scope focal length in millimetres.
func (c *Client) SetFocalLength(mm int32) error {
	return c.ack(protocol.OpSetFocalLength, protocol.EncodeI32(mm))
}

// SetMultiStar toggles multi-star guiding.
func (c *Client) SetMultiStar(enabled bool) error {
	return c.ack(protocol.OpSetMultiStar, protocol.EncodeBool(enabled))
}

// SetPixelSize sets the guide camera pixel size in micrometres.
func (c *Client) SetPixelSize(um float64) error {
	return c.ack(protocol.OpSetPixelSize, protocol.EncodeF64(um))
}

// SetGain sets the guide camera gain.
func (c *Client) SetGain(gain int32) error {
	return c.ack(protocol.OpSetGain, protocol.EncodeI32(gain))
}

// SetCalibrationStep sets the calibration step in milliseconds.
func (c *Client) SetCalibrationStep(ms int32) error {
	return c.ack(protocol.OpSetCalibrationStep, protocol.EncodeI32(ms))
}

// SetRaAggression sets RA aggressiveness in percent.
func (c *Client) SetRaAggression(percent int32) error {
	return c.ack(protocol.OpSetRaAggression, protocol.EncodeI32(percent))
}

// SetDecAggression sets Dec aggressiveness in percent.
func (c *Client) SetDecAggression(percent int32) error {
	return c.ack(protocol.OpSetDecAggression, protocol.EncodeI32(percent))
}

func (c *Client) ack(op protocol.Opcode, payload []byte) error {
	_, err := c.Send(op, payload)
	return err
}
