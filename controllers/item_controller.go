package controllers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/importer"
	"Gin_postgres_redis_lending_portal/models"
)

// column widths of lsb_items
const (
	maxItemName  = 200
	maxItemCode  = 120
	maxItemImage = 512
)

type ItemController struct {
	Items  ItemRepo
	Images ImageStore
	Stats  StatsCache
}

func NewItemController(items ItemRepo, images ImageStore, stats StatsCache) *ItemController {
	return &ItemController{Items: items, Images: images, Stats: stats}
}

// GET /api/items?status=&q=&page=&limit=
func (ic *ItemController) ListItems(c *app.Ctx) {
	p, err := app.ParsePaging(c)
	if err != nil {
		app.Fail(c, err)
		return
	}
	q := db.ItemsQuery{Q: c.Query("q"), Page: p.Page, Size: p.Limit}
	if s := c.Query("status"); s != "" {
		if q.Status, err = models.ParseItemStatus(s); err != nil {
			app.Fail(c, apperr.Invalid("status must be available, pending or borrowed"))
			return
		}
	}

	res, err := ic.Items.ListItems(c.Request.Context(), q)
	if err != nil {
		app.Fail(c, err)
		return
	}
	viewer := app.CurrentActor(c)
	if !viewer.Role.IsStaff() {
		for i := range res.Items {
			res.Items[i].HideBorrower(viewer.ID)
		}
	}
	app.Page(c, res.Items, res.Total, p)
}

// GET /api/items/:id
func (ic *ItemController) GetItem(c *app.Ctx) {
	row, err := ic.Items.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.Fail(c, err)
		return
	}
	if viewer := app.CurrentActor(c); !viewer.Role.IsStaff() {
		row.HideBorrower(viewer.ID)
	}
	app.OK(c, row)
}

// GET /api/items/:id/history
func (ic *ItemController) History(c *app.Ctx) {
	rows, err := ic.Items.ItemHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.Fail(c, err)
		return
	}
	viewer := app.CurrentActor(c)
	if !viewer.Role.IsStaff() {
		for i := range rows {
			if rows[i].BorrowerID != viewer.ID {
				rows[i].BorrowerID = ""
				rows[i].BorrowerName = "Student"
			}
		}
	}
	app.OK(c, rows)
}

type createItemReq struct {
	Name  string `json:"name" binding:"required"`
	Code  string `json:"code" binding:"required"`
	Image string `json:"image"`
}

func checkItemField(label, v string, limit int) error {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return apperr.Invalid(label + " is required")
	case utf8.RuneCountInString(v) > limit:
		return apperr.Invalid(fmt.Sprintf("%s must be at most %d characters", label, limit))
	}
	return nil
}

func checkItemImage(v string) error {
	if utf8.RuneCountInString(strings.TrimSpace(v)) > maxItemImage {
		return apperr.Invalid(fmt.Sprintf("image must be at most %d characters", maxItemImage))
	}
	return nil
}

func validItemFields(name, code, image string) error {
	if err := checkItemField("name", name, maxItemName); err != nil {
		return err
	}
	if err := checkItemField("code", code, maxItemCode); err != nil {
		return err
	}
	return checkItemImage(image)
}

// POST /api/items
func (ic *ItemController) CreateItem(c *app.Ctx) {
	var in createItemReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	if err := validItemFields(in.Name, in.Code, in.Image); err != nil {
		app.Fail(c, err)
		return
	}

	it := &models.Item{Name: in.Name, Code: in.Code, Image: strings.TrimSpace(in.Image)}
	if err := ic.Items.CreateItem(c.Request.Context(), it); err != nil {
		app.Fail(c, err)
		return
	}
	ic.Stats.Invalidate(c.Request.Context())
	app.Created(c, it)
}

// PUT /api/items/:id
func (ic *ItemController) UpdateItem(c *app.Ctx) {
	var in struct {
		db.ItemPatch
		Status *string `json:"status"`
	}
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	if in.Status != nil {
		app.Fail(c, apperr.Invalid("status changes only through loan requests, approvals and returns"))
		return
	}
	p := in.ItemPatch
	if p.Name == nil && p.Code == nil && p.Image == nil {
		app.Fail(c, apperr.Invalid("nothing to update"))
		return
	}
	if p.Name != nil {
		if err := checkItemField("name", *p.Name, maxItemName); err != nil {
			app.Fail(c, err)
			return
		}
	}
	if p.Code != nil {
		if err := checkItemField("code", *p.Code, maxItemCode); err != nil {
			app.Fail(c, err)
			return
		}
	}
	if p.Image != nil {
		if err := checkItemImage(*p.Image); err != nil {
			app.Fail(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	var oldImage string
	if p.Image != nil {
		if cur, err := ic.Items.GetItem(ctx, c.Param("id")); err == nil {
			oldImage = cur.Image
		}
	}
	it, err := ic.Items.UpdateItem(ctx, c.Param("id"), p)
	if err != nil {
		app.Fail(c, err)
		return
	}
	if oldImage != "" && oldImage != it.Image {
		ic.removeImage(c, oldImage)
	}
	app.OK(c, it)
}

// DELETE /api/items/:id
func (ic *ItemController) DeleteItem(c *app.Ctx) {
	ctx := c.Request.Context()
	cur, err := ic.Items.GetItem(ctx, c.Param("id"))
	if err != nil {
		app.Fail(c, err)
		return
	}
	if err := ic.Items.DeleteItem(ctx, cur.ID); err != nil {
		app.Fail(c, err)
		return
	}
	if cur.Image != "" {
		ic.removeImage(c, cur.Image)
	}
	ic.Stats.Invalidate(ctx)
	app.Done(c, "item deleted")
}

// formFile returns the multipart "file" part. An oversized upload keeps its
// *http.MaxBytesError so it maps to 413.
func formFile(c *app.Ctx) (*multipart.FileHeader, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, err
		}
		return nil, apperr.Invalid("multipart field \"file\" is required")
	}
	return fh, nil
}

func (ic *ItemController) removeImage(c *app.Ctx, url string) {
	if err := ic.Images.Remove(c.Request.Context(), url); err != nil {
		app.Logger(c).Warn("remove item image", zap.String("url", url), zap.Error(err))
	}
}

// POST /api/items/import (multipart "file")
func (ic *ItemController) ImportItems(c *app.Ctx) {
	fh, err := formFile(c)
	if err != nil {
		app.Fail(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		app.Fail(c, err)
		return
	}
	defer f.Close()

	sheet, err := importer.ReadSheet(fh.Filename, f)
	if err != nil {
		app.Fail(c, err)
		return
	}
	rows, rep, err := importer.ParseItems(sheet)
	if err != nil {
		app.Fail(c, err)
		return
	}

	ctx := c.Request.Context()
	for _, r := range rows {
		if err := validItemFields(r.Name, r.Code, r.Image); err != nil {
			_, msg := apperr.Public(err)
			rep.Fail(r.Row, msg)
			continue
		}
		it := &models.Item{Name: r.Name, Code: r.Code, Image: r.Image}
		if err := ic.Items.CreateItem(ctx, it); err != nil {
			if errors.Is(err, db.ErrDuplicateCode) {
				rep.Fail(r.Row, "code "+r.Code+" already exists")
				continue
			}
			app.Fail(c, err)
			return
		}
		rep.Created++
	}
	if rep.Created > 0 {
		ic.Stats.Invalidate(ctx)
	}
	app.Logger(c).Info("items imported",
		zap.String("file", fh.Filename),
		zap.Int("created", rep.Created),
		zap.Int("failed", rep.Failed),
	)
	app.OK(c, rep)
}

// POST /api/images (multipart "file")
func (ic *ItemController) UploadImage(c *app.Ctx) {
	fh, err := formFile(c)
	if err != nil {
		app.Fail(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		app.Fail(c, err)
		return
	}
	defer f.Close()

	url, err := ic.Images.Save(c.Request.Context(), f)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.Created(c, app.H{"url": url})
}
