package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/coral-mesh/cockroach/internal/logging"
)

var _ pflag.Value = (*hexAddress)(nil)

// hexAddress is a pflag.Value accepting hex with or without a 0x prefix.
type hexAddress uint64

func (h *hexAddress) String() string {
	if *h == 0 {
		return ""
	}
	return logging.Hex(uint64(*h))
}

func (h *hexAddress) Set(s string) error {
	digits := strings.TrimSpace(s)
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits = digits[2:]
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid hex address %q", s)
	}
	if v == 0 {
		return fmt.Errorf("address must be non-zero")
	}
	*h = hexAddress(v)
	return nil
}

func (h *hexAddress) Type() string {
	return "hex"
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}
