package soft

import (
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/avsession/implementation"
	"github.com/xaionaro-go/avsession/types"
)

func quantizerStep(qp uint8) int {
	return 1 + int(qp)/6
}

func clampSample(v int) byte {
	return byte(types.Clamp(v, 0, 255))
}

func dequantizeIntra(q byte, step int) byte {
	return clampSample(int(q)*step + step/2)
}

// quantizeIntra returns the coded samples and writes the reconstruction
// into recon.
func quantizeIntra(samples []byte, step int, recon []byte) []byte {
	coded := make([]byte, len(samples))
	for i, s := range samples {
		q := byte(int(s) / step)
		coded[i] = q
		recon[i] = dequantizeIntra(q, step)
	}
	return coded
}

func reconstructIntra(coded []byte, step int, recon []byte) error {
	if len(coded) != len(recon) {
		return fmt.Errorf("intra picture has %d samples instead of %d", len(coded), len(recon))
	}
	for i, q := range coded {
		recon[i] = dequantizeIntra(q, step)
	}
	return nil
}

// quantizeInter codes the residual against ref as 16-bit values.
func quantizeInter(samples, ref []byte, step int, recon []byte) []byte {
	coded := make([]byte, 2*len(samples))
	for i, s := range samples {
		residual := (int(s) - int(ref[i])) / step
		binary.LittleEndian.PutUint16(coded[2*i:], uint16(int16(residual)))
		recon[i] = clampSample(int(ref[i]) + residual*step)
	}
	return coded
}

func reconstructInter(coded, ref []byte, step int, recon []byte) error {
	if len(coded) != 2*len(recon) || len(ref) != len(recon) {
		return fmt.Errorf("inter picture has %d bytes instead of %d", len(coded), 2*len(recon))
	}
	for i := range recon {
		residual := int(int16(binary.LittleEndian.Uint16(coded[2*i:])))
		recon[i] = clampSample(int(ref[i]) + residual*step)
	}
	return nil
}

// rateController picks the quantizer of each picture.
type rateController struct {
	method           types.RateControlMethod
	qp               int
	targetFrameBytes float64
}

func newRateController(
	rc implementation.RateControl,
	frameRate types.Rational,
) *rateController {
	c := &rateController{
		method: rc.Method,
		qp:     26,
	}
	if rc.QP.IsSet() {
		c.qp = int(rc.QP.Get())
	}
	if rc.Method.UsesBitrate() && rc.TargetKbps.IsSet() && frameRate.IsPositive() {
		c.targetFrameBytes = float64(rc.TargetKbps.Get()) * 1000 / 8 / frameRate.Float64()
	}
	return c
}

func (c *rateController) QP() uint8 {
	return uint8(types.Clamp(c.qp, 0, maxQP))
}

// Update adapts the quantizer to the size of the last coded picture.
func (c *rateController) Update(size int) {
	if c.targetFrameBytes == 0 {
		return
	}
	switch {
	case float64(size) > c.targetFrameBytes*1.1:
		c.qp = types.Clamp(c.qp+1, 0, maxQP)
	case float64(size) < c.targetFrameBytes*0.9:
		c.qp = types.Clamp(c.qp-1, 0, maxQP)
	}
}
