// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const LoggingCallAtKey = "logging-call-at"

// Tag is the interface for logging system
type Tag struct {
	// keep this field private
	field zap.Field
}

// Field returns a zap field
func (t *Tag) Field() zap.Field {
	return t.field
}

func newStringTag(key string, value string) Tag {
	return Tag{
		field: zap.String(key, value),
	}
}

func newInt64(key string, value int64) Tag {
	return Tag{
		field: zap.Int64(key, value),
	}
}

func newInt(key string, value int) Tag {
	return Tag{
		field: zap.Int(key, value),
	}
}

func newTimeTag(key string, value time.Time) Tag {
	return Tag{
		field: zap.Time(key, value),
	}
}

func newObjectTag(key string, value interface{}) Tag {
	return Tag{
		field: zap.String(key, fmt.Sprintf("%v", value)),
	}
}

func newErrorTag(key string, value error) Tag {
	//NOTE zap already chosen "error" as key
	return Tag{
		field: zap.Error(value),
	}
}

// TAGS

func Error(err error) Tag {
	return newErrorTag("error", err)
}

func Service(sv string) Tag {
	return newStringTag("service", sv)
}

func Message(msg string) Tag {
	return newStringTag("message", msg)
}

func ProcessDefinitionId(id int64) Tag {
	return newInt64("processDefinitionId", id)
}

func ProcessName(name string) Tag {
	return newStringTag("processName", name)
}

func ProcessVersion(version string) Tag {
	return newStringTag("processVersion", version)
}

func ProcessInstanceId(id int64) Tag {
	return newInt64("processInstanceId", id)
}

func RootProcessInstanceId(id int64) Tag {
	return newInt64("rootProcessInstanceId", id)
}

func CallerInstanceId(id int64) Tag {
	return newInt64("callerInstanceId", id)
}

func FlowNodeId(id int64) Tag {
	return newInt64("flowNodeId", id)
}

func FlowNodeInstanceId(id int64) Tag {
	return newInt64("flowNodeInstanceId", id)
}

func FlowNodeName(name string) Tag {
	return newStringTag("flowNodeName", name)
}

func FlowNodeType(t string) Tag {
	return newStringTag("flowNodeType", t)
}

func GatewayName(name string) Tag {
	return newStringTag("gatewayName", name)
}

func TransitionName(name string) Tag {
	return newStringTag("transitionName", name)
}

func ErrorCode(code string) Tag {
	return newStringTag("errorCode", code)
}

func ConnectorId(id string) Tag {
	return newStringTag("connectorId", id)
}

func WorkType(wt string) Tag {
	return newStringTag("workType", wt)
}

func WorkId(id string) Tag {
	return newStringTag("workId", id)
}

func StatusCode(status int) Tag {
	return newInt("status", status)
}

func AnyToStr(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

func Value(v interface{}) Tag {
	return newObjectTag("value", v)
}

func UnixTimestamp(v int64) Tag {
	return newTimeTag("UnixTimestamp", time.Unix(v, 0))
}

func Key(v string) Tag {
	return newStringTag("Key", v)
}

func DefaultValue(v interface{}) Tag {
	return newObjectTag("default-value", v)
}
