package poll

import "github.com/sirupsen/logrus"

// log is used by every Poll not given a logger through pollopts.Logger.
var log = logrus.New()

func init() {
	log.SetLevel(logrus.WarnLevel)
}
