package pollopts

type OptionType uint8

const (
	TypeLogger OptionType = iota
	TypeDetectConcurrentWait
	MaxOption
)

func (t OptionType) String() string {
	switch t {
	case TypeLogger:
		return "logger"
	case TypeDetectConcurrentWait:
		return "detect_concurrent_wait"
	default:
		return "option_unknown"
	}
}

type Option interface {
	Type() OptionType
	Value() interface{}
}
