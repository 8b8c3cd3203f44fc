package pollopts

import "github.com/sirupsen/logrus"

type logger struct {
	v *logrus.Entry
}

// Logger sets the entry registry operations and the selector log through.
// A nil entry keeps the package default.
func Logger(v *logrus.Entry) Option {
	return &logger{
		v: v,
	}
}

func (o *logger) Type() OptionType {
	return TypeLogger
}

func (o *logger) Value() interface{} {
	return o.v
}
