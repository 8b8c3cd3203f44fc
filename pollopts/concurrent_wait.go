package pollopts

type detectConcurrentWait struct {
	v bool
}

// DetectConcurrentWait makes a second Wait on the same Poll fail fast with
// pollerrors.ErrConcurrentWait while another one is in flight. On by default.
func DetectConcurrentWait(v bool) Option {
	return &detectConcurrentWait{
		v: v,
	}
}

func (o *detectConcurrentWait) Type() OptionType {
	return TypeDetectConcurrentWait
}

func (o *detectConcurrentWait) Value() interface{} {
	return o.v
}
