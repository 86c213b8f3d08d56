package request

// ByIDRequest is a common struct for endpoints that require an ID path parameter.
type ByIDRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// Validate performs custom validation for ByIDRequest.
func (r *ByIDRequest) Validate() error {
	return nil
}

// ByOrderCodeRequest binds the numeric order code of payment endpoints.
type ByOrderCodeRequest struct {
	Code int64 `uri:"code" binding:"required,min=1"`
}

// ListParams holds the pagination query shared by list endpoints.
type ListParams struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}
