package formula

// Width is the bit width of every address, length and tag word.
type Width uint8

const (
	Width32 Width = 32
	Width64 Width = 64
)

// Bytes returns the encoded size of one word.
func (w Width) Bytes() int {
	if w == Width64 {
		return 8
	}
	return 4
}

func (w Width) index() int {
	if w == Width64 {
		return 1
	}
	return 0
}

// Config is fixed for a process and passed to every encode and decode call.
// Two sides exchanging bytes must agree on AddressWidth.
type Config struct {
	// AddressWidth is 32 or 64. Zero means 32.
	AddressWidth Width `yaml:"address_width" mapstructure:"address_width"`
	// AllowAllocation permits decodes that build new Go slices, strings or
	// dynamic values, and the allocating Encode helper.
	AllowAllocation bool `yaml:"allow_allocation" mapstructure:"allow_allocation"`
	// UnsafeStrings decodes strings without copying; they alias the input
	// and are only valid while it is unmodified.
	UnsafeStrings bool `yaml:"unsafe_strings" mapstructure:"unsafe_strings"`
}

// DefaultConfig uses 32-bit words and allows allocation.
func DefaultConfig() Config {
	return Config{AddressWidth: Width32, AllowAllocation: true}
}

// Validate reports an unsupported address width.
func (c Config) Validate() error {
	switch c.AddressWidth {
	case 0, Width32, Width64:
		return nil
	default:
		return newError(OpConfig, CodeInvalidConfig, -1, "address width must be 32 or 64, got %d", c.AddressWidth)
	}
}

func (c Config) width() Width {
	if c.AddressWidth == 0 {
		return Width32
	}
	return c.AddressWidth
}

func (c Config) word() int { return c.width().Bytes() }
