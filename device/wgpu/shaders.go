package wgpu

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gogpu/naga"

	"github.com/gogpu/ntt/device"
	"github.com/gogpu/ntt/field"
)

//go:embed shaders/goldilocks.wgsl
var shaderGoldilocks string

//go:embed shaders/fft_multiple.wgsl
var shaderFFTMultiple string

//go:embed shaders/fft_single.wgsl
var shaderFFTSingle string

//go:embed shaders/bit_reverse.wgsl
var shaderBitReverse string

//go:embed shaders/mul_assign.wgsl
var shaderMulAssign string

//go:embed shaders/mul_pow.wgsl
var shaderMulPow string

//go:embed shaders/add_assign.wgsl
var shaderAddAssign string

// bindingKind describes one @binding slot of a kernel, in slot order.
type bindingKind int

const (
	bindingStorage bindingKind = iota
	bindingReadOnly
	bindingUniform
)

// kernelSource is one WGSL kernel body plus the field arithmetic it is
// compiled against and its binding layout. paramsSize is the byte size of
// the uniform params binding, zero when the kernel takes none.
type kernelSource struct {
	arith      string
	body       string
	bindings   []bindingKind
	paramsSize int
}

// goldilocksKernels returns the kernel registry for the goldilocks field.
// The binding layouts must match the @binding annotations in the WGSL
// bodies exactly.
func goldilocksKernels() map[string]kernelSource {
	const fieldName = "goldilocks"
	name := func(op field.Op) string { return field.KernelName(op, fieldName) }
	return map[string]kernelSource{
		name(field.OpFFTMultiple): {
			arith:    shaderGoldilocks,
			body:     shaderFFTMultiple,
			bindings: []bindingKind{bindingStorage, bindingReadOnly},
		},
		name(field.OpFFTSingle): {
			arith:    shaderGoldilocks,
			body:     shaderFFTSingle,
			bindings: []bindingKind{bindingStorage, bindingReadOnly},
		},
		name(field.OpBitReverse): {
			arith:    shaderGoldilocks,
			body:     shaderBitReverse,
			bindings: []bindingKind{bindingStorage},
		},
		name(field.OpMulAssign): {
			arith:    shaderGoldilocks,
			body:     shaderMulAssign,
			bindings: []bindingKind{bindingStorage, bindingReadOnly},
		},
		name(field.OpMulPow): {
			arith:      shaderGoldilocks,
			body:       shaderMulPow,
			bindings:   []bindingKind{bindingStorage, bindingReadOnly, bindingUniform},
			paramsSize: 16,
		},
		name(field.OpAddAssign): {
			arith:    shaderGoldilocks,
			body:     shaderAddAssign,
			bindings: []bindingKind{bindingStorage, bindingReadOnly},
		},
	}
}

// composeSource assembles the final WGSL module: the specialization
// constants, the field arithmetic, then the kernel body. The HAL exposes
// no pipeline override constants, so specialization happens at the source
// level and the pipeline cache keys on the constant values.
func composeSource(src kernelSource, c device.Constants) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "const N: u32 = %du;\n", c.N)
	fmt.Fprintf(&sb, "const NUM_BOXES: u32 = %du;\n", c.Param)
	fmt.Fprintf(&sb, "const BASE: vec2<u32> = vec2<u32>(%du, %du);\n\n", c.Words[0], c.Words[1])
	sb.WriteString(src.arith)
	sb.WriteString("\n")
	sb.WriteString(src.body)
	return sb.String()
}

// compileToSPIRV compiles WGSL source to SPIR-V words for the HAL.
func compileToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}
