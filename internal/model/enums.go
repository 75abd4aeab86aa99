package model

// CAD engines
type Engine string

const (
	EngineCadQuery Engine = "cadquery"
	EngineArchiyou Engine = "archiyou"
	EngineOpenSCAD Engine = "openscad"
)

var ValidEngines = []Engine{
	EngineCadQuery, EngineArchiyou, EngineOpenSCAD,
}

// Model output formats (also used as file extension)
type ModelFormat string

const (
	FormatSTEP ModelFormat = "step"
	FormatGLTF ModelFormat = "gltf"
	FormatSTL  ModelFormat = "stl"
)

var ValidFormats = []ModelFormat{FormatSTEP, FormatGLTF, FormatSTL}

// engineFormats lists the output formats each engine can produce.
var engineFormats = map[Engine][]ModelFormat{
	EngineCadQuery: {FormatSTEP, FormatSTL},
	EngineArchiyou: {FormatSTEP, FormatGLTF, FormatSTL},
	EngineOpenSCAD: {FormatSTL},
}

// Supports reports whether the engine can produce the given format.
func (e Engine) Supports(f ModelFormat) bool {
	for _, sf := range engineFormats[e] {
		if sf == f {
			return true
		}
	}
	return false
}

// Formats returns the formats the engine can produce.
func (e Engine) Formats() []ModelFormat {
	return engineFormats[e]
}

// Parameter types
type ParamType string

const (
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamText    ParamType = "text"
	ParamOptions ParamType = "options"
)

// Model units
type ModelUnits string

const (
	UnitsMM   ModelUnits = "mm"
	UnitsCM   ModelUnits = "cm"
	UnitsDM   ModelUnits = "dm"
	UnitsM    ModelUnits = "m"
	UnitsInch ModelUnits = "inch"
	UnitsFoot ModelUnits = "foot"
)

// Content licenses for scripts and the models they produce
type ContentLicense string

const (
	LicenseCopyright  ContentLicense = "copyright"
	LicenseCCBY       ContentLicense = "CC_BY"
	LicenseCCBYSA     ContentLicense = "CC_BY_SA"
	LicenseCCBYNC     ContentLicense = "CC_BY_NC"
	LicenseCCBYNCSA   ContentLicense = "CC_BY_NC_SA"
	LicenseCCBYND     ContentLicense = "CC_BY_ND"
	LicenseCCBYNCND   ContentLicense = "CC_BY_NC_ND"
	LicenseCCZero     ContentLicense = "CC0"
	LicenseTrademark  ContentLicense = "trademarked"
)

// Job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Wait modes for model requests
type WaitMode string

const (
	WaitBlocking WaitMode = "blocking"
	WaitAsync    WaitMode = "async"
)

// Content encodings for model entries
const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)
