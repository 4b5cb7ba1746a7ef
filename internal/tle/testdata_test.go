package tle

import (
	"io"
	"log/slog"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	iss2008Line1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	iss2008Line2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"

	issLine1 = "1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994"
	issLine2 = "2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"

	polarLine1 = "1 33591U 09005A   25138.51401286  .00000091  00000+0  74512-4 0  9993"
	polarLine2 = "2 33591  99.0386 200.1234 0013741 164.7654 195.3925 14.13250987834121"

	starlinkLine1 = "1 44713U 19074A   25138.50000000  .00001000  00000+0  10000-4 0  9999"
	starlinkLine2 = "2 44713  53.0544 200.0000 0001500  90.0000 270.0000 15.06400000    04"

	geoLine1 = "1 41866U 16071A   25138.50000000 -.00000096  00000+0  00000+0 0  9998"
	geoLine2 = "2 41866   0.0312 270.1234 0001234 100.0000 200.0000  1.00271234 30008"
)
