// Copyright (C) 2026  The CrossDesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package bus

import "reflect"

// funcsEqual compares two Callback values by underlying code pointer.
// This is the common Go idiom for subscriber-list removal; it does not
// distinguish between two distinct closures created from the same
// function literal, so callers that need precise removal should keep
// the original Callback returned from a constructor and pass it back
// unchanged rather than re-wrapping a method value each time.
func funcsEqual(a, b Callback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
