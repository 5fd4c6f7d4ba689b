// Copyright 2025 BINARY Members
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tso

import (
	"fmt"

	"github.com/apache/thrift/lib/go/thrift"

	"github.com/B1NARY-GR0UP/tso-core/pkg/utils"
)

// WatermarkSnapshot implements thrift.TStruct by hand, the same shape
// generated thrift code takes, so pkg/utils.TMarshal/TUnmarshal (which have
// no other caller in this repo) give
// watchers of Watermarks() a compact, versioned byte encoding instead of
// an ad hoc one.
var (
	_ thrift.TStruct = (*WatermarkSnapshot)(nil)
)

const (
	_wmFieldEpoch           = 1
	_wmFieldLow             = 2
	_wmFieldOracleHighWater = 3
)

// Marshal encodes the snapshot with pkg/utils.TMarshal.
func (w *WatermarkSnapshot) Marshal() ([]byte, error) {
	return utils.TMarshal(w)
}

// UnmarshalWatermarkSnapshot decodes bytes produced by Marshal.
func UnmarshalWatermarkSnapshot(data []byte) (*WatermarkSnapshot, error) {
	w := &WatermarkSnapshot{}
	if err := utils.TUnmarshal(data, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WatermarkSnapshot) Write(p thrift.TProtocol) error {
	if err := p.WriteStructBegin("WatermarkSnapshot"); err != nil {
		return err
	}

	if err := p.WriteFieldBegin("epoch", thrift.I64, _wmFieldEpoch); err != nil {
		return err
	}
	if err := p.WriteI64(w.Epoch); err != nil {
		return err
	}
	if err := p.WriteFieldEnd(); err != nil {
		return err
	}

	if err := p.WriteFieldBegin("low", thrift.I64, _wmFieldLow); err != nil {
		return err
	}
	if err := p.WriteI64(w.Low); err != nil {
		return err
	}
	if err := p.WriteFieldEnd(); err != nil {
		return err
	}

	if err := p.WriteFieldBegin("oracleHighWater", thrift.I64, _wmFieldOracleHighWater); err != nil {
		return err
	}
	if err := p.WriteI64(w.OracleHighWater); err != nil {
		return err
	}
	if err := p.WriteFieldEnd(); err != nil {
		return err
	}

	if err := p.WriteFieldStop(); err != nil {
		return err
	}
	return p.WriteStructEnd()
}

func (w *WatermarkSnapshot) Read(p thrift.TProtocol) error {
	if _, err := p.ReadStructBegin(); err != nil {
		return err
	}

	for {
		_, fieldType, fieldID, err := p.ReadFieldBegin()
		if err != nil {
			return err
		}
		if fieldType == thrift.STOP {
			break
		}

		switch fieldID {
		case _wmFieldEpoch:
			v, err := p.ReadI64()
			if err != nil {
				return err
			}
			w.Epoch = v
		case _wmFieldLow:
			v, err := p.ReadI64()
			if err != nil {
				return err
			}
			w.Low = v
		case _wmFieldOracleHighWater:
			v, err := p.ReadI64()
			if err != nil {
				return err
			}
			w.OracleHighWater = v
		default:
			if err := p.Skip(fieldType); err != nil {
				return fmt.Errorf("watermark snapshot: skip unknown field %d: %w", fieldID, err)
			}
		}

		if err := p.ReadFieldEnd(); err != nil {
			return err
		}
	}

	return p.ReadStructEnd()
}
