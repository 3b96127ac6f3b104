package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/repository"
)

func (h *Handlers) listDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"definitions": h.registry.List()})
}

func (h *Handlers) getDefinition(c *gin.Context) {
	def, ok := h.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown definition: " + c.Param("name")})
		return
	}
	c.JSON(http.StatusOK, def)
}

// putDefinition upserts a definition in the registry and the record store.
// The path names the definition; a conflicting name in the body is rejected.
func (h *Handlers) putDefinition(c *gin.Context) {
	var def image.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	name := c.Param("name")
	if def.Name != "" && def.Name != name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "definition name does not match path"})
		return
	}
	def.Name = name
	if err := h.registry.Put(def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.repo.SaveDefinition(c.Request.Context(), def); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *Handlers) deleteDefinition(c *gin.Context) {
	name := c.Param("name")
	existed := h.registry.Remove(name)
	err := h.repo.DeleteDefinition(c.Request.Context(), name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.fail(c, err)
		return
	}
	if !existed && errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown definition: " + name})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) headDefinition(c *gin.Context) {
	if _, ok := h.registry.Get(c.Param("name")); !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

type createImageRequest struct {
	Definition string         `json:"definition" binding:"required"`
	Config     map[string]any `json:"config"`
}

func (h *Handlers) createImage(c *gin.Context) {
	var body createImageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	def, ok := h.registry.Get(body.Definition)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown definition: " + body.Definition})
		return
	}

	img := image.Build(def)
	img.Config = body.Config
	if err := h.repo.SaveImage(c.Request.Context(), img); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, img)
}

func (h *Handlers) listImages(c *gin.Context) {
	images, err := h.repo.ListImages(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *Handlers) getImage(c *gin.Context) {
	img, err := h.repo.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

// putImage upserts a full image record under the path id.
func (h *Handlers) putImage(c *gin.Context) {
	var img image.Image
	if err := c.ShouldBindJSON(&img); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if img.ID != "" && img.ID != c.Param("id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image id does not match path"})
		return
	}
	img.ID = c.Param("id")
	if err := h.repo.SaveImage(c.Request.Context(), &img); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, &img)
}

func (h *Handlers) deleteImage(c *gin.Context) {
	if err := h.repo.DeleteImage(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) headImage(c *gin.Context) {
	if _, err := h.repo.GetImage(c.Request.Context(), c.Param("id")); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

// runImage instantiates an agent directly from an image, outside any session.
func (h *Handlers) runImage(c *gin.Context) {
	img, err := h.repo.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ag, err := h.container.Run(c.Request.Context(), img)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.onAgent != nil {
		h.onAgent(ag)
	}
	c.JSON(http.StatusCreated, gin.H{
		"agentId": ag.ID,
		"imageId": img.ID,
		"state":   string(ag.State()),
	})
}

func (h *Handlers) listContainers(c *gin.Context) {
	containers, err := h.repo.ListContainers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"containers": containers})
}

func (h *Handlers) getContainer(c *gin.Context) {
	rec, err := h.repo.GetContainer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type containerRequest struct {
	Config map[string]any `json:"config"`
}

func (h *Handlers) createContainer(c *gin.Context) {
	var body containerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	rec := &repository.Container{ID: id.NewContainer(), Config: body.Config}
	if err := h.repo.SaveContainer(c.Request.Context(), rec); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handlers) putContainer(c *gin.Context) {
	var body containerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	rec, err := h.repo.GetContainer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	rec.Config = body.Config
	if err := h.repo.SaveContainer(c.Request.Context(), rec); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// deleteContainer removes the record; its sessions and messages cascade. The
// live container also destroys its agents first.
func (h *Handlers) deleteContainer(c *gin.Context) {
	containerID := c.Param("id")
	if containerID == h.container.ID {
		h.container.DestroyAll()
	}
	if err := h.repo.DeleteContainer(c.Request.Context(), containerID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) headContainer(c *gin.Context) {
	if _, err := h.repo.GetContainer(c.Request.Context(), c.Param("id")); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}
