// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"github.com/procflowio/procflow/common/log/tag"
)

// Logger is our abstraction for logging
// Usage examples:
//
//	 1) logger = logger.WithTags(
//	         tag.ProcessInstanceId(1001),
//	         tag.ProcessDefinitionId(7))
//	    logger.Info("flow node dispatched")
//	 2) logger.Info("flow node dispatched",
//	         tag.ProcessInstanceId(1001),
//	         tag.FlowNodeName("reviewOrder"))
//	 Note: msg should be static, it is not recommended to use fmt.Sprintf() for msg.
//	       Anything dynamic should be tagged.
type Logger interface {
	Debug(msg string, tags ...tag.Tag)
	Info(msg string, tags ...tag.Tag)
	Warn(msg string, tags ...tag.Tag)
	Error(msg string, tags ...tag.Tag)
	Fatal(msg string, tags ...tag.Tag)
	WithTags(tags ...tag.Tag) Logger
}
