// Package evdevcodes maps the symbolic axis/button names carried on the
// wire (base spec §4.3, "code is the symbolic axis/button name") to the
// numeric evdev/uinput type+code pairs the kernel expects, and back.
//
// The table is grounded on openstadia-go-uinput's uinputdefs.go constants
// and on the naming scheme host_input.py builds by walking evdev.ecodes;
// unlike the Python original this is a fixed table rather than a runtime
// reflection walk, since Go has no dir()-equivalent worth using here.
package evdevcodes

// Type is one of the evdev event type constants (EV_SYN, EV_KEY, EV_REL, EV_ABS).
type Type uint16

const (
	EV_SYN Type = 0x00
	EV_KEY Type = 0x01
	EV_REL Type = 0x02
	EV_ABS Type = 0x03
)

// Code is a symbolic event name as carried in wire.Event.Code.
type Code struct {
	Type  Type
	Value uint16
}

const SynReportName = "SYN_REPORT"

var byName = map[string]Code{
	"SYN_REPORT":    {EV_SYN, 0},
	"SYN_CONFIG":    {EV_SYN, 1},
	"SYN_MT_REPORT": {EV_SYN, 2},
	"SYN_DROPPED":   {EV_SYN, 3},

	"REL_X":      {EV_REL, 0x00},
	"REL_Y":      {EV_REL, 0x01},
	"REL_Z":      {EV_REL, 0x02},
	"REL_WHEEL":  {EV_REL, 0x08},
	"REL_HWHEEL": {EV_REL, 0x06},
	"REL_DIAL":   {EV_REL, 0x07},
	"REL_MISC":   {EV_REL, 0x09},

	"ABS_X":         {EV_ABS, 0x00},
	"ABS_Y":         {EV_ABS, 0x01},
	"ABS_Z":         {EV_ABS, 0x02},
	"ABS_RX":        {EV_ABS, 0x03},
	"ABS_RY":        {EV_ABS, 0x04},
	"ABS_RZ":        {EV_ABS, 0x05},
	"ABS_THROTTLE":  {EV_ABS, 0x06},
	"ABS_RUDDER":    {EV_ABS, 0x07},
	"ABS_WHEEL":     {EV_ABS, 0x08},
	"ABS_GAS":       {EV_ABS, 0x09},
	"ABS_BRAKE":     {EV_ABS, 0x0a},
	"ABS_HAT0X":     {EV_ABS, 0x10},
	"ABS_HAT0Y":     {EV_ABS, 0x11},
	"ABS_HAT1X":     {EV_ABS, 0x12},
	"ABS_HAT1Y":     {EV_ABS, 0x13},
	"ABS_HAT2X":     {EV_ABS, 0x14},
	"ABS_HAT2Y":     {EV_ABS, 0x15},
	"ABS_HAT3X":     {EV_ABS, 0x16},
	"ABS_HAT3Y":     {EV_ABS, 0x17},
	"ABS_PRESSURE":  {EV_ABS, 0x18},
	"ABS_DISTANCE":  {EV_ABS, 0x19},
	"ABS_TILT_X":    {EV_ABS, 0x1a},
	"ABS_TILT_Y":    {EV_ABS, 0x1b},
	"ABS_TOOL_WIDTH": {EV_ABS, 0x1c},
	"ABS_MISC":      {EV_ABS, 0x28},

	"BTN_LEFT":         {EV_KEY, 0x110},
	"BTN_RIGHT":        {EV_KEY, 0x111},
	"BTN_MIDDLE":       {EV_KEY, 0x112},
	"BTN_SIDE":         {EV_KEY, 0x113},
	"BTN_EXTRA":        {EV_KEY, 0x114},
	"BTN_FORWARD":      {EV_KEY, 0x115},
	"BTN_BACK":         {EV_KEY, 0x116},
	"BTN_TASK":         {EV_KEY, 0x117},
	"BTN_TOUCH":        {EV_KEY, 0x14a},
	"BTN_STYLUS":       {EV_KEY, 0x14b},
	"BTN_STYLUS2":      {EV_KEY, 0x14c},
	"BTN_TOOL_PEN":     {EV_KEY, 0x140},
	"BTN_TOOL_RUBBER":  {EV_KEY, 0x141},
	"BTN_TOOL_BRUSH":   {EV_KEY, 0x142},
	"BTN_TOOL_PENCIL":  {EV_KEY, 0x143},
	"BTN_TOOL_AIRBRUSH": {EV_KEY, 0x144},
	"BTN_TOOL_FINGER":  {EV_KEY, 0x145},
	"BTN_TOOL_MOUSE":   {EV_KEY, 0x146},
	"BTN_TOOL_LENS":    {EV_KEY, 0x147},

	"BTN_TRIGGER": {EV_KEY, 0x120},
	"BTN_THUMB":   {EV_KEY, 0x121},
	"BTN_THUMB2":  {EV_KEY, 0x122},
	"BTN_TOP":     {EV_KEY, 0x123},
	"BTN_TOP2":    {EV_KEY, 0x124},
	"BTN_PINKIE":  {EV_KEY, 0x125},
	"BTN_BASE":    {EV_KEY, 0x126},
	"BTN_BASE2":   {EV_KEY, 0x127},
	"BTN_BASE3":   {EV_KEY, 0x128},
	"BTN_BASE4":   {EV_KEY, 0x129},
	"BTN_BASE5":   {EV_KEY, 0x12a},
	"BTN_BASE6":   {EV_KEY, 0x12b},
	"BTN_DEAD":    {EV_KEY, 0x12f},

	"BTN_A":      {EV_KEY, 0x130},
	"BTN_B":      {EV_KEY, 0x131},
	"BTN_C":      {EV_KEY, 0x132},
	"BTN_X":      {EV_KEY, 0x133},
	"BTN_Y":      {EV_KEY, 0x134},
	"BTN_Z":      {EV_KEY, 0x135},
	"BTN_TL":     {EV_KEY, 0x136},
	"BTN_TR":     {EV_KEY, 0x137},
	"BTN_TL2":    {EV_KEY, 0x138},
	"BTN_TR2":    {EV_KEY, 0x139},
	"BTN_SELECT": {EV_KEY, 0x13a},
	"BTN_START":  {EV_KEY, 0x13b},
	"BTN_MODE":   {EV_KEY, 0x13c},
	"BTN_THUMBL": {EV_KEY, 0x13d},
	"BTN_THUMBR": {EV_KEY, 0x13e},
}

var byCode = func() map[Code]string {
	m := make(map[Code]string, len(byName))
	for name, code := range byName {
		m[code] = name
	}
	return m
}()

// Lookup resolves a symbolic name to its evdev type+code pair.
func Lookup(name string) (Code, bool) {
	c, ok := byName[name]
	return c, ok
}

// Name resolves an evdev type+code pair back to its symbolic name.
func Name(t Type, code uint16) (string, bool) {
	n, ok := byCode[Code{t, code}]
	return n, ok
}

// IsAbsAxis reports whether name is a recognized EV_ABS axis.
func IsAbsAxis(name string) bool {
	c, ok := byName[name]
	return ok && c.Type == EV_ABS
}

// IsButton reports whether name is a recognized EV_KEY code.
func IsButton(name string) bool {
	c, ok := byName[name]
	return ok && c.Type == EV_KEY
}

// All returns a copy of the full name-to-code table, for callers that need
// to walk every known symbol (e.g. capability-bit probing in devicedetector).
func All() map[string]Code {
	m := make(map[string]Code, len(byName))
	for k, v := range byName {
		m[k] = v
	}
	return m
}
