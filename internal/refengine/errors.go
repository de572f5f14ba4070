package refengine

import "github.com/develerltd/openzl-purego/internal/native"

// Error codes reported by the reference engine. Names follow the OpenZL
// ZL_ErrorCode descriptions so that messages read the same with either
// backend.
const (
	codeNoError                   int32 = 0
	codeGeneric                   int32 = 1
	codeAllocation                int32 = 2
	codeSrcSizeTooSmall           int32 = 3
	codeDstCapacityTooSmall       int32 = 5
	codeUserBuffersInvalidNum     int32 = 7
	codeDecompressionIncorrectAPI int32 = 8
	codeHeaderUnknown             int32 = 10
	codeSingleOutputFrameOnly     int32 = 13
	codeCompressionParamInvalid   int32 = 15
	codeGraphInvalid              int32 = 20
	codeSuccessorAlreadySet       int32 = 24
	codeInputTypeUnsupported      int32 = 25
	codeNodeInvalidInput          int32 = 28
	codeParameterInvalid          int32 = 30
	codeFormatVersionUnsupported  int32 = 31
	codeFormatVersionNotSet       int32 = 32
	codeCorruption                int32 = 40
	codeCompressedChecksumWrong   int32 = 41
	codeContentChecksumWrong      int32 = 42
	codeSrcSizeTooLarge           int32 = 43
)

var codeNames = map[int32]string{
	codeNoError:                   "No Error",
	codeGeneric:                   "Generic",
	codeAllocation:                "Allocation",
	codeSrcSizeTooSmall:           "Source size too small",
	codeDstCapacityTooSmall:       "Destination capacity too small",
	codeUserBuffersInvalidNum:     "Nb of Typed Buffers provided is incorrect for this frame",
	codeDecompressionIncorrectAPI: "Used an invalid decompression API method for the target Type",
	codeHeaderUnknown:             "Unknown header",
	codeSingleOutputFrameOnly:     "This request only makes sense for Frames hosting a single Output",
	codeCompressionParamInvalid:   "Compression parameter invalid",
	codeGraphInvalid:              "Graph invalid",
	codeSuccessorAlreadySet:       "A Successor was already assigned for this Stream",
	codeInputTypeUnsupported:      "Input Type not supported by selected Port",
	codeNodeInvalidInput:          "Input does not respect conditions for this node",
	codeParameterInvalid:          "Parameter is invalid",
	codeFormatVersionUnsupported:  "Format version unsupported",
	codeFormatVersionNotSet:       "Format version is not set; it must be set via the ZL_CParam_formatVersion parameter",
	codeCorruption:                "Corruption detected",
	codeCompressedChecksumWrong:   "Compressed checksum mismatch (corruption after compression)",
	codeContentChecksumWrong:      "Content checksum mismatch (either corruption after compression or corruption during compression or decompression)",
	codeSrcSizeTooLarge:           "Source size too large",
}

// failure carries an error code and the diagnostic a context reports for it.
type failure struct {
	code    int32
	context string
}

func (f *failure) Error() string {
	if f.context == "" {
		return codeNames[f.code]
	}
	return codeNames[f.code] + ": " + f.context
}

func fail(code int32, context string) *failure {
	return &failure{code: code, context: context}
}

func success(value uint64) native.Report {
	return native.Report{Value: value}
}

func reportOf(f *failure) native.Report {
	return native.Report{Code: f.code}
}
