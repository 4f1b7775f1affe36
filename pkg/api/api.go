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
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"servicefabrik.io/broker/pkg/apiserver"
	"servicefabrik.io/broker/pkg/log"
	"servicefabrik.io/broker/pkg/operator"
	"servicefabrik.io/broker/pkg/operator/flow"
	"servicefabrik.io/broker/pkg/version"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

// Submitter starts flows by definition name.
type Submitter interface {
	Submit(ctx context.Context, name string, options apiserver.Document) (*apiserver.ManagedResource, error)
}

// Flow serves the flows of one flavor.
type Flow struct {
	Flavor    flow.Flavor
	Submitter Submitter
}

type SubmitRequest struct {
	Name    string             `json:"name" binding:"required"`
	Options apiserver.Document `json:"options,omitempty"`
}

type Handler struct {
	Client apiserver.Client
	Flows  map[string]Flow
}

func NewHandler(client apiserver.Client, flows ...Flow) *Handler {
	h := &Handler{Client: client, Flows: map[string]Flow{}}
	for _, f := range flows {
		h.Flows[f.Flavor.Name] = f
	}
	return h
}

// Router serves the flow api next to health, version and metrics endpoints.
func (h *Handler) Router() *gin.Engine {
	logger := log.LogrLogger.WithName("api")
	log.SetGinDebugPrintRouteFunc(logger)

	ginr := gin.New()
	ginr.Use(
		log.NewGinLoggerMiddleware(logger),
		gin.Recovery(),
	)

	checks := &healthz.Handler{Checks: map[string]healthz.Checker{
		"ping":  healthz.Ping,
		"store": h.storeCheck,
	}}
	ginr.GET("/healthz", gin.WrapH(http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}})))
	ginr.GET("/readyz", gin.WrapH(http.StripPrefix("/readyz", checks)))
	ginr.GET("/metrics", gin.WrapH(promhttp.HandlerFor(operator.Registry, promhttp.HandlerOpts{})))
	ginr.GET("/version", func(c *gin.Context) { c.JSON(http.StatusOK, version.Get()) })

	v1 := ginr.Group("/api/v1")
	v1.POST("/:flavor", h.Submit)
	v1.GET("/:flavor/:id", h.Get)
	v1.GET("/:flavor/:id/tasks", h.ListTasks)
	return ginr
}

func (h *Handler) storeCheck(req *http.Request) error {
	for _, f := range h.Flows {
		if _, err := h.Client.ListResources(req.Context(), f.Flavor.ResourceGroup, f.Flavor.ResourceType, apiserver.StateQuery(apiserver.StateInQueue)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) flow(c *gin.Context) (Flow, bool) {
	f, ok := h.Flows[c.Param("flavor")]
	if !ok {
		NotOKCode(c, http.StatusNotFound, apierrors.NewNotFound(schema.GroupResource{Resource: "flavors"}, c.Param("flavor")))
	}
	return f, ok
}

// Submit queues a flow, answers with its id.
func (h *Handler) Submit(c *gin.Context) {
	f, ok := h.flow(c)
	if !ok {
		return
	}
	req := &SubmitRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		NotOK(c, err)
		return
	}
	res, err := f.Submitter.Submit(c.Request.Context(), req.Name, req.Options)
	if err != nil {
		NotOK(c, err)
		return
	}
	Created(c, gin.H{"id": res.Name})
}

func (h *Handler) Get(c *gin.Context) {
	f, ok := h.flow(c)
	if !ok {
		return
	}
	res, err := h.Client.GetResource(c.Request.Context(), apiserver.ResourceDetails{
		ResourceGroup: f.Flavor.ResourceGroup,
		ResourceType:  f.Flavor.ResourceType,
		ResourceID:    c.Param("id"),
	})
	if err != nil {
		NotOK(c, err)
		return
	}
	OK(c, res)
}

// ListTasks lists the tasks created for a flow in their order.
func (h *Handler) ListTasks(c *gin.Context) {
	f, ok := h.flow(c)
	if !ok {
		return
	}
	query := fmt.Sprintf("%s=%s", f.Flavor.IDKey, c.Param("id"))
	tasks, err := h.Client.ListResources(c.Request.Context(), f.Flavor.ResourceGroup, apiserver.TypeTask, query)
	if err != nil {
		NotOK(c, err)
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return taskOrder(tasks[i]) < taskOrder(tasks[j])
	})
	OK(c, tasks)
}

func taskOrder(res *apiserver.ManagedResource) int {
	order, err := strconv.Atoi(res.Labels[apiserver.LabelTaskOrder])
	if err != nil {
		return -1
	}
	return order
}
