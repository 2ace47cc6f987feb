// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package healthz

import "github.com/ethereum/go-ethereum/metrics"

// statusGauge reports the monitor's current status as an integer:
// 0=Healthy, 1=Unhealthy, 2=Failed. Grounded on the teacher's
// consumerLagSeq-style single package-level gauge (cmd/ubtconv/metrics.go).
var statusGauge = metrics.NewRegisteredGauge("streamproc/health/status", nil)

func statusValue(s Status) int64 {
	switch s {
	case Healthy:
		return 0
	case Unhealthy:
		return 1
	case Failed:
		return 2
	default:
		return -1
	}
}
