// Copyright 2022 The servicefabrik.io Authors
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

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"servicefabrik.io/broker/pkg/log"
)

type Response struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Message: "ok", Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Message: "created", Data: data})
}

func NotOK(c *gin.Context, err error) {
	NotOKCode(c, http.StatusBadRequest, err)
}

// NotOKCode answers with the code of a status error, code otherwise.
func NotOKCode(c *gin.Context, code int, err error) {
	log.Errorf("notok: %v", err)
	statuserr := &apierrors.StatusError{}
	if errors.As(err, &statuserr) {
		c.AbortWithStatusJSON(int(statuserr.Status().Code), Response{Message: err.Error(), Error: statuserr.Status()})
		return
	}
	c.AbortWithStatusJSON(code, Response{Message: err.Error(), Error: err.Error()})
}
