package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type executeRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code" binding:"required"`
}

type uploadFileRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (h *Handler) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	handle, err := h.executions.Dispatch(c.Request.Context(), claimsFrom(c).AccountID, req.Code, req.Language)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_handle": string(handle)})
}

func (h *Handler) languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": h.executions.Languages()})
}

func (h *Handler) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	project, err := h.projects.Create(c.Request.Context(), claimsFrom(c).AccountID, req.Name, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, projectToResponse(*project))
}

func (h *Handler) listProjects(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context(), claimsFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]projectResponse, len(projects))
	for i := range projects {
		resp[i] = projectToResponse(projects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) uploadFile(c *gin.Context) {
	var req uploadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	file, err := h.files.Upload(c.Request.Context(), claimsFrom(c).AccountID, req.Name, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, fileToResponse(*file))
}

func (h *Handler) listFiles(c *gin.Context) {
	files, err := h.files.List(c.Request.Context(), claimsFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]fileResponse, len(files))
	for i := range files {
		resp[i] = fileToResponse(files[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getFile(c *gin.Context) {
	file, body, err := h.files.Get(c.Request.Context(), claimsFrom(c).AccountID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := fileToResponse(*file)
	content := string(body)
	resp.Content = &content
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) fileURL(c *gin.Context) {
	url, err := h.files.DownloadURL(c.Request.Context(), claimsFrom(c).AccountID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) fileUsage(c *gin.Context) {
	total, err := h.files.Usage(c.Request.Context(), claimsFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bytes": total})
}

func (h *Handler) listPlugins(c *gin.Context) {
	plugins, err := h.plugins.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]pluginResponse, len(plugins))
	for i := range plugins {
		resp[i] = pluginToResponse(plugins[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) togglePlugin(c *gin.Context) {
	plugin, err := h.plugins.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pluginToResponse(*plugin))
}
