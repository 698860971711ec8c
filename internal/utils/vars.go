package utils

import "errors"

const ToolUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0"
const LogFile = ".tokysnatcher.log"
const PartSuffix = ".part"

// SlashReplacement flattens hierarchical separators in titles ("1/12" -> "1 out of 12").
const SlashReplacement = " out of "

// ErrCancelled marks work stopped by the run's cancellation signal. It is a
// terminal state, not a failure.
var ErrCancelled = errors.New("cancelled")

var ErrNoChapters = errors.New("no chapters to download")
